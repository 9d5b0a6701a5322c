package relay

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is returned when a required field is missing. No local or
// remote state is touched when it is returned.
var ErrInvalidRequest = errors.New("token and topic are required")

// ProviderError reports that the delivery provider rejected or failed a call.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StorageError reports a durable read or write failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

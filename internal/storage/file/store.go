// Package file implements the default subscription store: a single JSON
// document on local disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tinywideclouds/go-topic-relay/pkg/relay"
)

// Store persists the mapping as `{"token": ["topic", ...]}`.
type Store struct {
	path   string
	logger *slog.Logger
}

func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.With("component", "FileStore", "path", path),
	}
}

func (s *Store) Load(_ context.Context) relay.Subscriptions {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("No subscriptions file found, starting empty")
		} else {
			s.logger.Error("Failed to read subscriptions file, starting empty", "err", err)
		}
		return relay.Subscriptions{}
	}

	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Error("Failed to parse subscriptions file, starting empty", "err", err)
		return relay.Subscriptions{}
	}
	return relay.Normalize(raw)
}

const fileMode os.FileMode = 0o644

// Save writes to a temp file next to the target and renames it into place,
// so a concurrent reader sees either the old or the new document.
func (s *Store) Save(_ context.Context, subs relay.Subscriptions) error {
	if subs == nil {
		subs = relay.Subscriptions{}
	}
	data, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal subscriptions: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		// Only present if something failed before the rename.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	// CreateTemp uses 0600; the document is meant to be read by other tools.
	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set temp file mode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

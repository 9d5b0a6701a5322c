// Package pipeline contains the Pub/Sub send-ingestion stages.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

// SendRequest is the payload published to the ingestion topic.
type SendRequest struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

// SendRequestTransformer unmarshals a raw message payload into a SendRequest.
// Malformed payloads return an error without skip: the StreamingService acks
// skipped messages, but Nacks failed ones towards the dead-letter topic.
func SendRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*SendRequest, bool, error) {
	var req SendRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal send request from message %s: %w", msg.ID, err)
	}
	return &req, false, nil
}

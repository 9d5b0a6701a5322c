package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

// Sender is the dispatcher contract the processor depends on.
type Sender interface {
	Send(ctx context.Context, topic, message string) (string, error)
}

// NewProcessor relays each request to the dispatcher exactly once. Provider
// failures are logged and the message is still acknowledged.
func NewProcessor(sender Sender, logger *slog.Logger) messagepipeline.StreamProcessor[SendRequest] {
	return func(ctx context.Context, original messagepipeline.Message, request *SendRequest) error {
		procLogger := logger.With(
			"topic", request.Topic,
			"pubsub_msg_id", original.ID,
		)

		id, err := sender.Send(ctx, request.Topic, request.Message)
		if err != nil {
			procLogger.Error("Dropping send request after provider failure", "err", err)
			return nil
		}
		procLogger.Info("Send request relayed", "id", id)
		return nil
	}
}

// Package relay contains the public contracts and domain models shared by the
// topic relay components.
package relay

import (
	"context"

	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// Store is the durable backing for the subscription mirror.
type Store interface {
	// Load reads the persisted mapping. It never fails the caller: a missing
	// or unreadable state yields an empty mapping and a logged diagnostic.
	Load(ctx context.Context) Subscriptions

	// Save replaces the persisted mapping with subs. A reader must never
	// observe a partially written state.
	Save(ctx context.Context, subs Subscriptions) error

	Close() error
}

// TopicManager defines the provider operations that change topic membership
// for a single client token.
type TopicManager interface {
	SubscribeToTopic(ctx context.Context, token, topic string) error
	UnsubscribeFromTopic(ctx context.Context, token, topic string) error
}

// Sender submits a fully built message to the delivery provider and returns
// the provider's delivery id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Message is the provider-neutral payload produced by the dispatcher.
type Message struct {
	Topic string
	// Content is nil for data-only messages.
	Content     *notification.NotificationContent
	ClickAction string
	Data        map[string]string
}

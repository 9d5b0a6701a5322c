// Package fcm adapts the Firebase Cloud Messaging client to the relay's
// provider contracts.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-topic-relay/pkg/relay"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
	UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// Provider implements relay.TopicManager and relay.Sender.
type Provider struct {
	client MessagingClient
	logger *slog.Logger
}

func NewProvider(client MessagingClient, logger *slog.Logger) *Provider {
	return &Provider{
		client: client,
		logger: logger.With("component", "FCMProvider"),
	}
}

func (p *Provider) SubscribeToTopic(ctx context.Context, token, topic string) error {
	resp, err := p.client.SubscribeToTopic(ctx, []string{token}, topic)
	return p.checkTopicResponse("subscribe", topic, resp, err)
}

func (p *Provider) UnsubscribeFromTopic(ctx context.Context, token, topic string) error {
	resp, err := p.client.UnsubscribeFromTopic(ctx, []string{token}, topic)
	return p.checkTopicResponse("unsubscribe", topic, resp, err)
}

// Send maps the neutral message onto an FCM topic message.
func (p *Provider) Send(ctx context.Context, msg relay.Message) (string, error) {
	fcmMsg := &messaging.Message{
		Topic: msg.Topic,
		Data:  msg.Data,
	}
	if msg.Content != nil {
		fcmMsg.Notification = &messaging.Notification{
			Title: msg.Content.Title,
			Body:  msg.Content.Body,
		}
	}
	if msg.ClickAction != "" {
		fcmMsg.Android = &messaging.AndroidConfig{
			Notification: &messaging.AndroidNotification{ClickAction: msg.ClickAction},
		}
	}

	id, err := p.client.Send(ctx, fcmMsg)
	if err != nil {
		return "", fmt.Errorf("fcm send failed: %w", err)
	}
	p.logger.Debug("FCM message accepted", "topic", msg.Topic, "id", id)
	return id, nil
}

// checkTopicResponse treats a per-token failure inside an otherwise
// successful batch call as an error, since we only ever send one token.
func (p *Provider) checkTopicResponse(op, topic string, resp *messaging.TopicManagementResponse, err error) error {
	if err != nil {
		return fmt.Errorf("fcm %s transport failed: %w", op, err)
	}
	if resp == nil || resp.FailureCount == 0 {
		return nil
	}

	reason := "unknown"
	if len(resp.Errors) > 0 && resp.Errors[0] != nil {
		reason = resp.Errors[0].Reason
	}
	p.logger.Warn("FCM rejected topic change", "op", op, "topic", topic, "reason", reason)
	return fmt.Errorf("fcm %s rejected: %s", op, reason)
}

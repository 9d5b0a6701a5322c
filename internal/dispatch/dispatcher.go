// Package dispatch turns a logical (topic, message) pair into a provider
// message using per-topic templates.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-topic-relay/pkg/relay"
)

const (
	// DefaultTopic is used when a send request names no topic.
	DefaultTopic = "allUsers"

	defaultTitle       = "Notification"
	defaultBody        = "You have a new message"
	defaultSendTimeout = 10 * time.Second
)

// Template describes how messages for one topic are built. A template with
// no Title and no Body produces a data-only message.
type Template struct {
	Title       string
	Body        string
	ClickAction string
	// Action is placed in the "action" data key. Empty means the request's
	// message text is used.
	Action string
}

// DefaultTemplates returns the built-in topic templates.
func DefaultTemplates() map[string]Template {
	return map[string]Template{
		"activityUpdate": {
			Title:       "Activity Update",
			Body:        "Activity status changed",
			ClickAction: "FLUTTER_NOTIFICATION_CLICK",
			Action:      "updateActivity",
		},
		"activityLocationRequest": {
			Action: "sendLocation",
		},
	}
}

type Dispatcher struct {
	sender    relay.Sender
	templates map[string]Template
	timeout   time.Duration
	logger    *slog.Logger
}

// NewDispatcher merges overrides over DefaultTemplates.
func NewDispatcher(sender relay.Sender, overrides map[string]Template, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	templates := DefaultTemplates()
	for topic, tmpl := range overrides {
		templates[topic] = tmpl
	}
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Dispatcher{
		sender:    sender,
		templates: templates,
		timeout:   timeout,
		logger:    logger.With("component", "Dispatcher"),
	}
}

// Send builds the message for topic and submits it once. Provider failures
// come back as *relay.ProviderError.
func (d *Dispatcher) Send(ctx context.Context, topic, message string) (string, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	log := d.logger.With("topic", topic, "request_id", uuid.NewString())
	log.Info("Sending to topic")

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	id, err := d.sender.Send(ctx, d.Build(topic, message))
	if err != nil {
		log.Error("Send failed", "err", err)
		return "", &relay.ProviderError{Op: "send", Err: err}
	}
	log.Info("Message sent", "id", id)
	return id, nil
}

// Build renders the message for topic without sending it.
func (d *Dispatcher) Build(topic, message string) relay.Message {
	tmpl, ok := d.templates[topic]
	if !ok {
		body := message
		if body == "" {
			body = defaultBody
		}
		return relay.Message{
			Topic:   topic,
			Content: &notification.NotificationContent{Title: defaultTitle, Body: body},
			Data:    map[string]string{"action": message},
		}
	}

	action := tmpl.Action
	if action == "" {
		action = message
	}
	msg := relay.Message{
		Topic:       topic,
		ClickAction: tmpl.ClickAction,
		Data:        map[string]string{"action": action},
	}
	if tmpl.Title != "" || tmpl.Body != "" {
		msg.Content = &notification.NotificationContent{Title: tmpl.Title, Body: tmpl.Body}
	}
	return msg
}

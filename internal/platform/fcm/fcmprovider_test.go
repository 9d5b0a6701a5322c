package fcm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-topic-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-topic-relay/pkg/relay"
)

// MockClient satisfies the MessagingClient interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error) {
	args := m.Called(ctx, tokens, topic)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.TopicManagementResponse), args.Error(1)
}

func (m *MockClient) UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error) {
	args := m.Called(ctx, tokens, topic)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.TopicManagementResponse), args.Error(1)
}

func (m *MockClient) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFCMProvider_TopicManagement(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	t.Run("Subscribe success", func(t *testing.T) {
		mockClient := new(MockClient)
		mockClient.On("SubscribeToTopic", ctx, []string{"tok1"}, "news").
			Return(&messaging.TopicManagementResponse{SuccessCount: 1}, nil)

		provider := fcm.NewProvider(mockClient, logger)
		require.NoError(t, provider.SubscribeToTopic(ctx, "tok1", "news"))
		mockClient.AssertExpectations(t)
	})

	t.Run("Per-token rejection carries the reason", func(t *testing.T) {
		mockClient := new(MockClient)
		mockClient.On("UnsubscribeFromTopic", ctx, []string{"bad"}, "news").
			Return(&messaging.TopicManagementResponse{
				FailureCount: 1,
				Errors:       []*messaging.ErrorInfo{{Index: 0, Reason: "registration-token-not-registered"}},
			}, nil)

		provider := fcm.NewProvider(mockClient, logger)
		err := provider.UnsubscribeFromTopic(ctx, "bad", "news")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "registration-token-not-registered")
	})

	t.Run("Transport failure", func(t *testing.T) {
		mockClient := new(MockClient)
		mockClient.On("SubscribeToTopic", ctx, []string{"tok1"}, "news").Return(nil, errors.New("network down"))

		provider := fcm.NewProvider(mockClient, logger)
		err := provider.SubscribeToTopic(ctx, "tok1", "news")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "transport failed")
	})
}

func TestFCMProvider_Send(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	t.Run("Notification with click action", func(t *testing.T) {
		mockClient := new(MockClient)
		provider := fcm.NewProvider(mockClient, logger)

		mockClient.On("Send", ctx, mock.MatchedBy(func(m *messaging.Message) bool {
			return m.Topic == "activityUpdate" &&
				m.Notification != nil && m.Notification.Title == "Activity Update" &&
				m.Android != nil && m.Android.Notification.ClickAction == "FLUTTER_NOTIFICATION_CLICK" &&
				m.Data["action"] == "updateActivity"
		})).Return("projects/p/messages/1", nil)

		id, err := provider.Send(ctx, relay.Message{
			Topic:       "activityUpdate",
			Content:     &notification.NotificationContent{Title: "Activity Update", Body: "Activity status changed"},
			ClickAction: "FLUTTER_NOTIFICATION_CLICK",
			Data:        map[string]string{"action": "updateActivity"},
		})

		require.NoError(t, err)
		assert.Equal(t, "projects/p/messages/1", id)
		mockClient.AssertExpectations(t)
	})

	t.Run("Data-only message has no notification block", func(t *testing.T) {
		mockClient := new(MockClient)
		provider := fcm.NewProvider(mockClient, logger)

		mockClient.On("Send", ctx, mock.MatchedBy(func(m *messaging.Message) bool {
			return m.Notification == nil && m.Android == nil && m.Data["action"] == "sendLocation"
		})).Return("id-2", nil)

		_, err := provider.Send(ctx, relay.Message{
			Topic: "activityLocationRequest",
			Data:  map[string]string{"action": "sendLocation"},
		})
		require.NoError(t, err)
	})

	t.Run("Send failure is wrapped", func(t *testing.T) {
		mockClient := new(MockClient)
		provider := fcm.NewProvider(mockClient, logger)
		mockClient.On("Send", ctx, mock.Anything).Return("", errors.New("quota exceeded"))

		_, err := provider.Send(ctx, relay.Message{Topic: "news"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "quota exceeded")
	})
}

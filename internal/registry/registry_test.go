package registry_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-topic-relay/internal/registry"
	"github.com/tinywideclouds/go-topic-relay/pkg/relay"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

// memStore records every saved snapshot.
type memStore struct {
	mu      sync.Mutex
	initial relay.Subscriptions
	saves   []relay.Subscriptions
	saveErr error
}

func (s *memStore) Load(_ context.Context) relay.Subscriptions {
	if s.initial == nil {
		return relay.Subscriptions{}
	}
	return s.initial.Clone()
}

func (s *memStore) Save(_ context.Context, subs relay.Subscriptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves = append(s.saves, subs.Clone())
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *memStore) last() relay.Subscriptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return nil
	}
	return s.saves[len(s.saves)-1]
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) SubscribeToTopic(ctx context.Context, token, topic string) error {
	return m.Called(ctx, token, topic).Error(0)
}

func (m *mockProvider) UnsubscribeFromTopic(ctx context.Context, token, topic string) error {
	return m.Called(ctx, token, topic).Error(0)
}

func newRegistry(t *testing.T, store *memStore, provider relay.TopicManager, cfg registry.Config) *registry.Registry {
	t.Helper()
	return registry.New(context.Background(), store, provider, cfg, newTestLogger())
}

// --- Tests ---

func TestRegistry_Scenario(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	provider := new(mockProvider)
	provider.On("SubscribeToTopic", mock.Anything, "tok1", "news").Return(nil)
	provider.On("UnsubscribeFromTopic", mock.Anything, "tok1", "news").Return(nil)

	reg := newRegistry(t, store, provider, registry.Config{})

	require.NoError(t, reg.Subscribe(ctx, "tok1", "news"))
	assert.Equal(t, relay.Subscriptions{"tok1": {"news"}}, reg.ListSubscriptions())
	assert.Equal(t, 1, store.saveCount())

	// Second subscribe: no local mutation, provider still called.
	require.NoError(t, reg.Subscribe(ctx, "tok1", "news"))
	assert.Equal(t, relay.Subscriptions{"tok1": {"news"}}, reg.ListSubscriptions())
	assert.Equal(t, 1, store.saveCount())
	provider.AssertNumberOfCalls(t, "SubscribeToTopic", 2)

	require.NoError(t, reg.Unsubscribe(ctx, "tok1", "news"))
	assert.Equal(t, relay.Subscriptions{}, reg.ListSubscriptions())
	assert.Equal(t, relay.Subscriptions{}, store.last())
	provider.AssertExpectations(t)
}

func TestRegistry_Unsubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("Keeps remaining topics", func(t *testing.T) {
		store := &memStore{initial: relay.Subscriptions{"tok1": {"news", "sport"}}}
		provider := new(mockProvider)
		provider.On("UnsubscribeFromTopic", mock.Anything, "tok1", "news").Return(nil)

		reg := newRegistry(t, store, provider, registry.Config{})
		require.NoError(t, reg.Unsubscribe(ctx, "tok1", "news"))

		assert.Equal(t, relay.Subscriptions{"tok1": {"sport"}}, reg.ListSubscriptions())
	})

	t.Run("Absent pair still reaches provider", func(t *testing.T) {
		store := &memStore{}
		provider := new(mockProvider)
		provider.On("UnsubscribeFromTopic", mock.Anything, "ghost", "news").Return(nil)

		reg := newRegistry(t, store, provider, registry.Config{})
		require.NoError(t, reg.Unsubscribe(ctx, "ghost", "news"))

		assert.Equal(t, 0, store.saveCount())
		provider.AssertExpectations(t)
	})
}

func TestRegistry_InvalidRequest(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	provider := new(mockProvider)
	reg := newRegistry(t, store, provider, registry.Config{})

	cases := []struct{ token, topic string }{
		{"", "news"},
		{"tok1", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.ErrorIs(t, reg.Subscribe(ctx, tc.token, tc.topic), relay.ErrInvalidRequest)
		assert.ErrorIs(t, reg.Unsubscribe(ctx, tc.token, tc.topic), relay.ErrInvalidRequest)
	}

	assert.Empty(t, reg.ListSubscriptions())
	assert.Equal(t, 0, store.saveCount())
	provider.AssertNotCalled(t, "SubscribeToTopic", mock.Anything, mock.Anything, mock.Anything)
	provider.AssertNotCalled(t, "UnsubscribeFromTopic", mock.Anything, mock.Anything, mock.Anything)
}

func TestRegistry_ProviderFailure(t *testing.T) {
	ctx := context.Background()
	providerErr := errors.New("registration-token-not-registered")

	t.Run("Mirror stays ahead by default", func(t *testing.T) {
		store := &memStore{}
		provider := new(mockProvider)
		provider.On("SubscribeToTopic", mock.Anything, "tok1", "news").Return(providerErr)

		reg := newRegistry(t, store, provider, registry.Config{})
		err := reg.Subscribe(ctx, "tok1", "news")

		var pe *relay.ProviderError
		require.ErrorAs(t, err, &pe)
		assert.ErrorIs(t, err, providerErr)
		assert.Contains(t, err.Error(), "registration-token-not-registered")
		assert.Equal(t, relay.Subscriptions{"tok1": {"news"}}, reg.ListSubscriptions())
	})

	t.Run("Rollback reverts and persists", func(t *testing.T) {
		store := &memStore{}
		provider := new(mockProvider)
		provider.On("SubscribeToTopic", mock.Anything, "tok1", "news").Return(providerErr)

		reg := newRegistry(t, store, provider, registry.Config{RollbackOnProviderError: true})
		err := reg.Subscribe(ctx, "tok1", "news")

		require.Error(t, err)
		assert.Empty(t, reg.ListSubscriptions())
		assert.Equal(t, 2, store.saveCount())
		assert.Equal(t, relay.Subscriptions{}, store.last())
	})

	t.Run("Rollback of unsubscribe restores topic", func(t *testing.T) {
		store := &memStore{initial: relay.Subscriptions{"tok1": {"news"}}}
		provider := new(mockProvider)
		provider.On("UnsubscribeFromTopic", mock.Anything, "tok1", "news").Return(providerErr)

		reg := newRegistry(t, store, provider, registry.Config{RollbackOnProviderError: true})
		require.Error(t, reg.Unsubscribe(ctx, "tok1", "news"))

		assert.Equal(t, relay.Subscriptions{"tok1": {"news"}}, reg.ListSubscriptions())
	})

	t.Run("Service stays available", func(t *testing.T) {
		store := &memStore{}
		provider := new(mockProvider)
		provider.On("SubscribeToTopic", mock.Anything, "tok1", "news").Return(providerErr).Once()
		provider.On("SubscribeToTopic", mock.Anything, "tok1", "news").Return(nil)

		reg := newRegistry(t, store, provider, registry.Config{})
		require.Error(t, reg.Subscribe(ctx, "tok1", "news"))
		require.NoError(t, reg.Subscribe(ctx, "tok1", "news"))
	})
}

func TestRegistry_StorageFailure(t *testing.T) {
	ctx := context.Background()
	store := &memStore{saveErr: errors.New("disk full")}
	provider := new(mockProvider)

	reg := newRegistry(t, store, provider, registry.Config{})
	err := reg.Subscribe(ctx, "tok1", "news")

	var se *relay.StorageError
	require.ErrorAs(t, err, &se)
	assert.Empty(t, reg.ListSubscriptions(), "in-memory change must be reverted")
	provider.AssertNotCalled(t, "SubscribeToTopic", mock.Anything, mock.Anything, mock.Anything)
}

func TestRegistry_ProviderTimeout(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	provider := new(mockProvider)
	provider.On("SubscribeToTopic", mock.Anything, "tok1", "news").
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(context.DeadlineExceeded)

	reg := newRegistry(t, store, provider, registry.Config{ProviderTimeout: 20 * time.Millisecond})

	start := time.Now()
	err := reg.Subscribe(ctx, "tok1", "news")

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRegistry_ConcurrentSubscribeSameToken(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	provider := new(mockProvider)
	provider.On("SubscribeToTopic", mock.Anything, "tok1", mock.Anything).Return(nil)

	reg := newRegistry(t, store, provider, registry.Config{})

	topics := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for _, topic := range topics {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			assert.NoError(t, reg.Subscribe(ctx, "tok1", topic))
		}(topic)
	}

	// Readers run alongside writers and must see whole snapshots.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				snapshot := reg.ListSubscriptions()
				seen := map[string]bool{}
				for _, topic := range snapshot["tok1"] {
					assert.False(t, seen[topic], "duplicate topic in snapshot")
					seen[topic] = true
				}
			}
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, topics, reg.ListSubscriptions()["tok1"])
	// Saves are strictly ordered, so the last one holds every topic.
	assert.ElementsMatch(t, topics, store.last()["tok1"])
	assert.Equal(t, len(topics), store.saveCount())
}

func TestRegistry_ListIsACopy(t *testing.T) {
	store := &memStore{initial: relay.Subscriptions{"tok1": {"news"}}}
	reg := newRegistry(t, store, new(mockProvider), registry.Config{})

	snapshot := reg.ListSubscriptions()
	snapshot["tok1"][0] = "mutated"
	snapshot["tok2"] = []string{"x"}

	assert.Equal(t, relay.Subscriptions{"tok1": {"news"}}, reg.ListSubscriptions())
}

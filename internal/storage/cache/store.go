// Package cache implements the subscription store on Redis. The whole
// mapping lives under a single key so every Save is one atomic SET.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tinywideclouds/go-topic-relay/pkg/relay"
)

const DefaultKey = "relay:subscriptions"

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns redis.Nil when the key does not exist.
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Close() error
}

type Store struct {
	client CacheClient
	key    string
	logger *slog.Logger
}

func NewStore(client CacheClient, key string, logger *slog.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{
		client: client,
		key:    key,
		logger: logger.With("component", "RedisStore", "key", key),
	}
}

func (s *Store) Load(ctx context.Context) relay.Subscriptions {
	var raw map[string][]string
	if err := s.client.Get(ctx, s.key, &raw); err != nil {
		if errors.Is(err, redis.Nil) {
			s.logger.Info("No subscriptions stored, starting empty")
		} else {
			s.logger.Error("Failed to load subscriptions, starting empty", "err", err)
		}
		return relay.Subscriptions{}
	}
	return relay.Normalize(raw)
}

func (s *Store) Save(ctx context.Context, subs relay.Subscriptions) error {
	if subs == nil {
		subs = relay.Subscriptions{}
	}
	if err := s.client.Set(ctx, s.key, subs, 0); err != nil {
		return fmt.Errorf("failed to set %s: %w", s.key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

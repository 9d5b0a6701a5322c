// Package registry keeps the local subscription mirror and the provider's
// topic membership in step.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-topic-relay/pkg/relay"
)

const defaultProviderTimeout = 10 * time.Second

// Config controls the registry's provider policy.
type Config struct {
	// ProviderTimeout bounds every provider call made while holding the
	// writer lock.
	ProviderTimeout time.Duration
	// RollbackOnProviderError reverts the local mutation when the provider
	// call that follows it fails. When false the mirror is left ahead of the
	// provider.
	RollbackOnProviderError bool
}

// Registry owns the subscription mapping and its Store.
//
// writeMu serializes mutating operations end to end, so Save calls are
// strictly ordered. stateMu guards the map itself so that readers can take a
// consistent snapshot while a writer waits on the provider.
type Registry struct {
	store    relay.Store
	provider relay.TopicManager
	cfg      Config
	logger   *slog.Logger

	writeMu sync.Mutex
	stateMu sync.RWMutex
	subs    relay.Subscriptions
}

// New loads the current mapping from store and returns a ready Registry.
func New(ctx context.Context, store relay.Store, provider relay.TopicManager, cfg Config, logger *slog.Logger) *Registry {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	subs := store.Load(ctx)
	if subs == nil {
		subs = relay.Subscriptions{}
	}
	logger = logger.With("component", "Registry")
	logger.Info("Subscriptions loaded", "tokens", len(subs))

	return &Registry{
		store:    store,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		subs:     subs,
	}
}

// Subscribe records topic for token, persists the mirror and then asks the
// provider to subscribe the token.
func (r *Registry) Subscribe(ctx context.Context, token, topic string) error {
	return r.mutate(ctx, "subscribe", token, topic,
		func(s relay.Subscriptions) bool { return s.Add(token, topic) },
		func(s relay.Subscriptions) bool { return s.Remove(token, topic) },
		r.provider.SubscribeToTopic,
	)
}

// Unsubscribe drops topic for token, persists the mirror and then asks the
// provider to unsubscribe the token.
func (r *Registry) Unsubscribe(ctx context.Context, token, topic string) error {
	return r.mutate(ctx, "unsubscribe", token, topic,
		func(s relay.Subscriptions) bool { return s.Remove(token, topic) },
		func(s relay.Subscriptions) bool { return s.Add(token, topic) },
		r.provider.UnsubscribeFromTopic,
	)
}

// ListSubscriptions returns a copy of the current mapping.
func (r *Registry) ListSubscriptions() relay.Subscriptions {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.subs.Clone()
}

type editFunc func(relay.Subscriptions) bool

type providerFunc func(ctx context.Context, token, topic string) error

func (r *Registry) mutate(ctx context.Context, op, token, topic string, apply, revert editFunc, call providerFunc) error {
	if token == "" || topic == "" {
		return relay.ErrInvalidRequest
	}
	log := r.logger.With("op", op, "topic", topic)

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	changed, err := r.applyAndSave(ctx, apply, revert)
	if err != nil {
		log.Error("Failed to persist subscriptions", "err", err)
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.ProviderTimeout)
	defer cancel()

	if err := call(callCtx, token, topic); err != nil {
		log.Error("Provider call failed", "err", err, "local_changed", changed)
		if changed && r.cfg.RollbackOnProviderError {
			if _, rbErr := r.applyAndSave(ctx, revert, apply); rbErr != nil {
				log.Error("Failed to roll back local mutation", "err", rbErr)
			} else {
				log.Info("Local mutation rolled back after provider failure")
			}
		}
		return &relay.ProviderError{Op: op, Err: err}
	}

	log.Debug("Subscription updated", "local_changed", changed)
	return nil
}

// applyAndSave runs apply against the live map and persists the result. If
// the save fails the change is undone with revert, keeping memory equal to
// durable state. Callers must hold writeMu.
func (r *Registry) applyAndSave(ctx context.Context, apply, revert editFunc) (bool, error) {
	r.stateMu.Lock()
	changed := apply(r.subs)
	var snapshot relay.Subscriptions
	if changed {
		snapshot = r.subs.Clone()
	}
	r.stateMu.Unlock()

	if !changed {
		return false, nil
	}

	if err := r.store.Save(ctx, snapshot); err != nil {
		r.stateMu.Lock()
		revert(r.subs)
		r.stateMu.Unlock()
		return false, &relay.StorageError{Op: "save", Err: err}
	}
	return true, nil
}

// Package leveldb implements the subscription store on an embedded LevelDB
// database, one key per client token.
package leveldb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/tinywideclouds/go-topic-relay/pkg/relay"
)

type Store struct {
	db     *leveldb.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the database at path.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	return &Store{
		db:     db,
		logger: logger.With("component", "LevelDBStore", "path", path),
	}, nil
}

func (s *Store) Load(_ context.Context) relay.Subscriptions {
	raw := make(map[string][]string)

	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		var topics []string
		if err := json.Unmarshal(iter.Value(), &topics); err != nil {
			s.logger.Error("Skipping unparseable entry", "err", err)
			continue
		}
		raw[string(iter.Key())] = topics
	}
	if err := iter.Error(); err != nil {
		s.logger.Error("Failed to iterate subscriptions, starting empty", "err", err)
		return relay.Subscriptions{}
	}
	return relay.Normalize(raw)
}

// Save writes puts for every token and deletes for tokens no longer present
// in a single batch, which LevelDB applies atomically.
func (s *Store) Save(_ context.Context, subs relay.Subscriptions) error {
	batch := new(leveldb.Batch)

	iter := s.db.NewIterator(nil, nil)
	for iter.Next() {
		if _, ok := subs[string(iter.Key())]; !ok {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("failed to scan existing tokens: %w", err)
	}

	for token, topics := range subs {
		value, err := json.Marshal(topics)
		if err != nil {
			return fmt.Errorf("failed to marshal topics for token: %w", err)
		}
		batch.Put([]byte(token), value)
	}

	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("failed to write leveldb batch: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Package firestore implements the subscription store on Google Cloud
// Firestore, keeping the whole mapping in one document.
package firestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-topic-relay/pkg/relay"
)

const (
	DefaultCollection = "relay"
	documentID        = "subscriptions"
)

// FirestoreStore implements relay.Store. A single Set replaces the document,
// which Firestore applies atomically.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

func NewFirestoreStore(client *firestore.Client, collection string, logger *slog.Logger) *FirestoreStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &FirestoreStore{
		client:     client,
		collection: collection,
		logger:     logger.With("component", "FirestoreStore", "collection", collection),
	}
}

// subscriptionsRecord is the internal DB representation.
type subscriptionsRecord struct {
	Subscriptions map[string][]string `firestore:"subscriptions"`
	UpdatedAt     time.Time           `firestore:"updated_at"`
}

func (s *FirestoreStore) Load(ctx context.Context) relay.Subscriptions {
	snap, err := s.docRef().Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			s.logger.Info("No subscriptions document found, starting empty")
		} else {
			s.logger.Error("Failed to read subscriptions document, starting empty", "err", err)
		}
		return relay.Subscriptions{}
	}

	var record subscriptionsRecord
	if err := snap.DataTo(&record); err != nil {
		s.logger.Error("Failed to decode subscriptions document, starting empty", "err", err)
		return relay.Subscriptions{}
	}
	return relay.Normalize(record.Subscriptions)
}

func (s *FirestoreStore) Save(ctx context.Context, subs relay.Subscriptions) error {
	record := subscriptionsRecord{
		Subscriptions: subs,
		UpdatedAt:     time.Now(),
	}
	if record.Subscriptions == nil {
		record.Subscriptions = map[string][]string{}
	}
	if _, err := s.docRef().Set(ctx, record); err != nil {
		return fmt.Errorf("firestore set failed: %w", err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (s *FirestoreStore) Close() error { return nil }

// docRef: {collection}/subscriptions
func (s *FirestoreStore) docRef() *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(documentID)
}

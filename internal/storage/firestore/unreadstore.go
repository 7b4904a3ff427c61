package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnreadStore implements dispatch.UnreadStore with one counter document per
// key in the root "unread_counters" collection.
type UnreadStore struct {
	client *firestore.Client
}

func NewUnreadStore(client *firestore.Client) *UnreadStore {
	return &UnreadStore{client: client}
}

type counterRecord struct {
	Key       string    `firestore:"key"`
	Count     int64     `firestore:"count"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

func (s *UnreadStore) Increment(ctx context.Context, key string) (int64, error) {
	_, err := s.ref(key).Set(ctx, map[string]interface{}{
		"key":        key,
		"count":      firestore.Increment(1),
		"updated_at": time.Now(),
	}, firestore.MergeAll)
	if err != nil {
		return 0, fmt.Errorf("failed to increment unread counter: %w", err)
	}
	return s.Count(ctx, key)
}

func (s *UnreadStore) Count(ctx context.Context, key string) (int64, error) {
	doc, err := s.ref(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read unread counter: %w", err)
	}
	var record counterRecord
	if err := doc.DataTo(&record); err != nil {
		return 0, fmt.Errorf("corrupt unread counter %s: %w", key, err)
	}
	return record.Count, nil
}

func (s *UnreadStore) Clear(ctx context.Context, key string) error {
	_, err := s.ref(key).Delete(ctx)
	return err
}

// Keys may contain slashes, so the document ID is a hash of the key.
func (s *UnreadStore) ref(key string) *firestore.DocumentRef {
	return s.client.Collection("unread_counters").Doc(hashToken(key))
}

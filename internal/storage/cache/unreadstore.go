package cache

import (
	"context"
	"fmt"
)

// CounterClient is the integer subset of Redis used for unread counters.
type CounterClient interface {
	Incr(ctx context.Context, key string) (int64, error)
	GetInt(ctx context.Context, key string) (int64, error)
	Del(ctx context.Context, key string) error
}

// UnreadStore implements dispatch.UnreadStore on Redis INCR/GET/DEL.
type UnreadStore struct {
	client CounterClient
}

func NewUnreadStore(client CounterClient) *UnreadStore {
	return &UnreadStore{client: client}
}

func (s *UnreadStore) Increment(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, s.counterKey(key))
}

func (s *UnreadStore) Count(ctx context.Context, key string) (int64, error) {
	return s.client.GetInt(ctx, s.counterKey(key))
}

func (s *UnreadStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.counterKey(key))
}

func (s *UnreadStore) counterKey(key string) string {
	return fmt.Sprintf("bridge:unread:%s", key)
}

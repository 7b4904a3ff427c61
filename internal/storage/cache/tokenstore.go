package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-messaging-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or an error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedTokenStore is a Decorator that adds Read-Aside caching to any TokenStore.
type CachedTokenStore struct {
	realStore dispatch.TokenStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedTokenStore(realStore dispatch.TokenStore, cache CacheClient, ttl time.Duration) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedTokenStore) Fetch(ctx context.Context, key string) (*dispatch.DeviceTokens, error) {
	cacheKey := s.cacheKey(key)

	var cached dispatch.DeviceTokens
	if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization; if Redis is down we still serve from the DB.
	_ = s.cache.Set(ctx, cacheKey, fresh, s.ttl)

	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedTokenStore) RegisterToken(ctx context.Context, key string, platform dispatch.Platform, token string) error {
	if err := s.realStore.RegisterToken(ctx, key, platform, token); err != nil {
		return err
	}
	return s.invalidate(ctx, key)
}

func (s *CachedTokenStore) RegisterWeb(ctx context.Context, key string, sub notification.WebPushSubscription) error {
	if err := s.realStore.RegisterWeb(ctx, key, sub); err != nil {
		return err
	}
	return s.invalidate(ctx, key)
}

// UnregisterToken must clear the cache even though the DB write succeeded,
// otherwise the relay keeps pushing to a dead device until the TTL expires.
func (s *CachedTokenStore) UnregisterToken(ctx context.Context, key string, token string) error {
	if err := s.realStore.UnregisterToken(ctx, key, token); err != nil {
		return err
	}
	return s.invalidate(ctx, key)
}

func (s *CachedTokenStore) UnregisterWeb(ctx context.Context, key string, endpoint string) error {
	if err := s.realStore.UnregisterWeb(ctx, key, endpoint); err != nil {
		return err
	}
	return s.invalidate(ctx, key)
}

func (s *CachedTokenStore) UnregisterAll(ctx context.Context, key string) error {
	if err := s.realStore.UnregisterAll(ctx, key); err != nil {
		return err
	}
	return s.invalidate(ctx, key)
}

// --- Helpers ---

func (s *CachedTokenStore) invalidate(ctx context.Context, key string) error {
	return s.cache.Del(ctx, s.cacheKey(key))
}

func (s *CachedTokenStore) cacheKey(key string) string {
	return fmt.Sprintf("bridge:tokens:%s", key)
}

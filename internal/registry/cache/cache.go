// Package cache holds the registry key cache. It is an explicitly owned
// component with a TTL and a single Refresh path so tests can substitute
// the backend or the loader.
package cache

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"
)

// Backend stores raw key bytes under a string key with expiry.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Store(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Loader fetches a key from the source of truth. It returns nil, nil when
// the key is unknown.
type Loader func(ctx context.Context, subscriberID, keyID string) (ed25519.PublicKey, error)

// KeyCache caches subscriber signing keys for TTL.
type KeyCache struct {
	TTL     time.Duration
	backend Backend
	load    Loader
}

// New creates a KeyCache. A non-positive ttl disables caching.
func New(backend Backend, ttl time.Duration, load Loader) (*KeyCache, error) {
	if backend == nil {
		return nil, errors.New("cache backend is required")
	}
	if load == nil {
		return nil, errors.New("cache loader is required")
	}
	return &KeyCache{TTL: ttl, backend: backend, load: load}, nil
}

// Get returns the cached key or refreshes it from the loader.
func (c *KeyCache) Get(ctx context.Context, subscriberID, keyID string) (ed25519.PublicKey, error) {
	if c.TTL > 0 {
		raw, ok, err := c.backend.Load(ctx, cacheKey(subscriberID, keyID))
		if err == nil && ok && len(raw) == ed25519.PublicKeySize {
			return ed25519.PublicKey(raw), nil
		}
	}
	return c.Refresh(ctx, subscriberID, keyID)
}

// Refresh bypasses the cache, loads the key and stores it. Unknown keys
// are not cached so a later registration is picked up immediately.
func (c *KeyCache) Refresh(ctx context.Context, subscriberID, keyID string) (ed25519.PublicKey, error) {
	pub, err := c.load(ctx, subscriberID, keyID)
	if err != nil {
		return nil, err
	}
	key := cacheKey(subscriberID, keyID)
	if len(pub) == 0 {
		_ = c.backend.Delete(ctx, key)
		return nil, nil
	}
	if c.TTL > 0 {
		if err := c.backend.Store(ctx, key, pub, c.TTL); err != nil {
			return pub, fmt.Errorf("store key in cache: %w", err)
		}
	}
	return pub, nil
}

func cacheKey(subscriberID, keyID string) string {
	return "registry:key:" + subscriberID + "|" + keyID
}

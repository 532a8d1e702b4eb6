package location

import (
	"context"
	"sync"
	"time"
)

// Cache stores geocoding results keyed by normalized location string.
// A stored nil value is a cached negative: the provider was asked and had no
// answer, so callers should not ask again until the entry expires.
type Cache interface {
	Get(ctx context.Context, key string) (*Coordinates, bool, error)
	Set(ctx context.Context, key string, value *Coordinates) error
}

type memoryEntry struct {
	value     *Coordinates
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache. It is the default when no redis
// address is configured and the one tests use.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemoryCache builds an in-process cache whose entries expire after ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

// WithClock overrides the time source for deterministic tests.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*Coordinates, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value *Coordinates) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
	return nil
}

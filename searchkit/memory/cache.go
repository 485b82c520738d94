package memory

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
)

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Cache is an in-memory backend.CacheStore with per-key TTLs.
type Cache struct {
	faults

	mu        sync.RWMutex
	entries   map[string]cacheEntry
	connected bool
	now       func() time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock replaces time.Now when judging expiry.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache creates an empty Cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{entries: make(map[string]cacheEntry), now: time.Now}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect marks the cache connected.
func (c *Cache) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = true

	return nil
}

// Disconnect marks the cache disconnected. Stored entries survive.
func (c *Cache) Disconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false

	return nil
}

// Search returns the result set stored for the query, or backend.ErrCacheMiss.
func (c *Cache) Search(ctx context.Context, query string, opts backend.Options) (backend.Result, error) {
	if err := c.enter(ctx); err != nil {
		return backend.Result{}, err
	}

	return backend.LookupCached(ctx, c, query, opts)
}

// Get returns the value stored under key.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return nil, false, backend.NewError(backend.Cache, "not_connected", "memory cache", backend.ErrNotConnected)
	}

	entry, ok := c.entries[key]
	if !ok || entry.expired(c.now()) {
		return nil, false, nil
	}

	return entry.value, true, nil
}

// Set stores value under key. A non-positive ttl never expires.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.injected(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return backend.NewError(backend.Cache, "not_connected", "memory cache", backend.ErrNotConnected)
	}

	entry := cacheEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}

	c.entries[key] = entry

	return nil
}

// Invalidate removes every live key matching the glob pattern. An empty
// pattern matches everything.
func (c *Cache) Invalidate(_ context.Context, pattern string) (int, error) {
	if err := c.injected(); err != nil {
		return 0, err
	}

	if pattern == "" {
		pattern = "*"
	}

	if _, err := path.Match(pattern, ""); err != nil {
		return 0, backend.NewError(backend.Cache, "bad_pattern", pattern, fmt.Errorf("%w: %w", backend.ErrInvalidQuery, err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0

	for key, entry := range c.entries {
		if ok, _ := path.Match(pattern, key); !ok {
			continue
		}

		if !entry.expired(now) {
			removed++
		}

		delete(c.entries, key)
	}

	return removed, nil
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	n := 0

	for _, entry := range c.entries {
		if !entry.expired(now) {
			n++
		}
	}

	return n
}

// CheckHealth reports whether the cache is connected.
func (c *Cache) CheckHealth(context.Context) backend.HealthStatus {
	if status, ok := c.healthOverride(); ok {
		return status
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return backend.UnhealthyStatus(0, backend.ErrNotConnected)
	}

	return backend.HealthyStatus(0)
}

var _ backend.CacheStore = (*Cache)(nil)

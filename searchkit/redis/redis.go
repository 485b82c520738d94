package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/backoff"
	constant "github.com/LerianStudio/lib-searchkit/searchkit/constants"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/LerianStudio/lib-searchkit/searchkit/opentelemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultDialTimeout = 5 * time.Second
	scanCount          = 200
)

var (
	// ErrNoAddress is returned by New when no server address is configured.
	ErrNoAddress = errors.New("redis: at least one address is required")
	// ErrBadPattern is returned by Invalidate for a malformed pattern.
	ErrBadPattern = errors.New("redis: invalid key pattern")
)

// Config configures a Cache.
type Config struct {
	// Addresses lists host:port pairs. More than one address selects cluster
	// mode unless MasterName is set.
	Addresses []string
	// MasterName selects sentinel mode.
	MasterName  string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
	Retry       backoff.Policy
	// Lock guards Invalidate so one sweep runs at a time.
	Lock   LockOptions
	Logger log.Logger
	Tracer trace.Tracer
}

func (cfg Config) normalize() (Config, error) {
	addrs := make([]string, 0, len(cfg.Addresses))

	for _, addr := range cfg.Addresses {
		if addr = strings.TrimSpace(addr); addr != "" {
			addrs = append(addrs, addr)
		}
	}

	if len(addrs) == 0 {
		return Config{}, ErrNoAddress
	}

	cfg.Addresses = addrs

	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	if cfg.Retry.Attempts == 0 {
		cfg.Retry = backoff.DefaultPolicy()
	}

	if cfg.Lock.Expiry <= 0 || cfg.Lock.Tries <= 0 {
		cfg.Lock = DefaultLockOptions()
	}

	cfg.Logger = log.OrNop(cfg.Logger)
	cfg.Tracer = opentelemetry.Tracer(cfg.Tracer)

	return cfg, nil
}

// Cache is a Redis backed backend.CacheStore.
type Cache struct {
	mu     sync.RWMutex
	cfg    Config
	client redis.UniversalClient
}

// New validates cfg. No connection is made until Connect.
func New(cfg Config) (*Cache, error) {
	normalized, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	return &Cache{cfg: normalized}, nil
}

func (c *Cache) options() *redis.UniversalOptions {
	return &redis.UniversalOptions{
		Addrs:       c.cfg.Addresses,
		MasterName:  c.cfg.MasterName,
		Password:    c.cfg.Password,
		DB:          c.cfg.DB,
		PoolSize:    c.cfg.PoolSize,
		DialTimeout: c.cfg.DialTimeout,
	}
}

// Connect dials the server and pings it, retrying with backoff. Calling
// Connect on a connected cache is a no-op.
func (c *Cache) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	ctx, span := c.cfg.Tracer.Start(ctx, "redis.connect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemRedis))

	var client redis.UniversalClient

	err := backoff.Retry(ctx, c.cfg.Retry, func(ctx context.Context) error {
		candidate := redis.NewUniversalClient(c.options())

		if err := candidate.Ping(ctx).Err(); err != nil {
			_ = candidate.Close()

			c.cfg.Logger.Log(ctx, log.LevelWarn, "redis ping failed, retrying", log.Err(err))

			return err
		}

		client = candidate

		return nil
	})
	if err != nil {
		opentelemetry.HandleSpanError(span, "failed to connect to redis", err)

		return backend.NewError(backend.Cache, "connect", "redis", fmt.Errorf("%w: %w", backend.ErrConnection, err))
	}

	c.client = client

	c.cfg.Logger.Log(ctx, log.LevelInfo, "connected to redis",
		log.String("addresses", strings.Join(c.cfg.Addresses, ",")))

	return nil
}

// Disconnect closes the client. It is safe to call more than once.
func (c *Cache) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil

	if err != nil {
		return fmt.Errorf("redis: close: %w", err)
	}

	c.cfg.Logger.Log(ctx, log.LevelInfo, "redis connection closed")

	return nil
}

func (c *Cache) conn() (redis.UniversalClient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.client == nil {
		return nil, backend.NewError(backend.Cache, "not_connected", "redis", backend.ErrNotConnected)
	}

	return c.client, nil
}

// Search returns the result set stored for the query, or backend.ErrCacheMiss.
func (c *Cache) Search(ctx context.Context, query string, opts backend.Options) (backend.Result, error) {
	return backend.LookupCached(ctx, c, query, opts)
}

// Get returns the value stored under key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	client, err := c.conn()
	if err != nil {
		return nil, false, err
	}

	ctx, span := c.cfg.Tracer.Start(ctx, "redis.get")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemRedis))

	value, err := client.Get(ctx, key).Bytes()

	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		opentelemetry.HandleSpanError(span, "redis get failed", err)

		return nil, false, backend.NewError(backend.Cache, "get", "redis", err)
	}

	return value, true, nil
}

// Set stores value under key. A non-positive ttl never expires.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	client, err := c.conn()
	if err != nil {
		return err
	}

	if ttl < 0 {
		ttl = 0
	}

	ctx, span := c.cfg.Tracer.Start(ctx, "redis.set")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemRedis))

	if err := client.Set(ctx, key, value, ttl).Err(); err != nil {
		opentelemetry.HandleSpanError(span, "redis set failed", err)

		return backend.NewError(backend.Cache, "set", "redis", err)
	}

	return nil
}

// Invalidate deletes every key matching the glob pattern. An empty pattern
// matches everything under backend.KeyPrefix.
func (c *Cache) Invalidate(ctx context.Context, pattern string) (int, error) {
	client, err := c.conn()
	if err != nil {
		return 0, err
	}

	if pattern == "" {
		pattern = backend.KeyPrefix + "*"
	}

	if strings.ContainsAny(pattern, "\r\n") {
		return 0, backend.NewError(backend.Cache, "bad_pattern", pattern, fmt.Errorf("%w: %w", backend.ErrInvalidQuery, ErrBadPattern))
	}

	ctx, span := c.cfg.Tracer.Start(ctx, "redis.invalidate")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemRedis))

	var (
		mu      sync.Mutex
		removed int
	)

	sweep := func(ctx context.Context, node redis.Cmdable) error {
		n, err := scanAndDelete(ctx, node, pattern)

		mu.Lock()
		removed += n
		mu.Unlock()

		return err
	}

	err = c.withLock(ctx, client, invalidateLockKey, func(ctx context.Context) error {
		if cluster, ok := client.(*redis.ClusterClient); ok {
			return cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
				return sweep(ctx, node)
			})
		}

		return sweep(ctx, client)
	})

	if err != nil {
		opentelemetry.HandleSpanError(span, "redis invalidate failed", err)

		return removed, backend.NewError(backend.Cache, "invalidate", "redis", err)
	}

	c.cfg.Logger.Log(ctx, log.LevelDebug, "redis keys invalidated",
		log.String("pattern", pattern), log.Int("removed", removed))

	return removed, nil
}

// scanAndDelete finishes the SCAN before deleting anything: removing keys
// between pages can move the cursor past keys that were never returned.
func scanAndDelete(ctx context.Context, node redis.Cmdable, pattern string) (int, error) {
	keys, err := scanKeys(ctx, node, pattern)
	if err != nil {
		return 0, err
	}

	removed := 0

	for batch := range slices.Chunk(keys, scanCount) {
		// Keys in one batch can hash to different slots, so delete one by one
		// through a pipeline rather than with a multi-key DEL.
		cmds, err := node.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, key := range batch {
				pipe.Del(ctx, key)
			}

			return nil
		})
		if err != nil {
			return removed, err
		}

		for _, cmd := range cmds {
			if del, ok := cmd.(*redis.IntCmd); ok {
				removed += int(del.Val())
			}
		}
	}

	return removed, nil
}

// scanKeys returns every key matching pattern, without duplicates and without
// the invalidation lock.
func scanKeys(ctx context.Context, node redis.Cmdable, pattern string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)

	for {
		page, next, err := node.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return nil, err
		}

		keys = append(keys, page...)

		cursor = next
		if cursor == 0 {
			break
		}
	}

	keys = slices.DeleteFunc(keys, func(key string) bool { return key == invalidateLockKey })
	slices.Sort(keys)

	return slices.Compact(keys), nil
}

// CheckHealth pings the server and reports the round trip latency.
func (c *Cache) CheckHealth(ctx context.Context) backend.HealthStatus {
	client, err := c.conn()
	if err != nil {
		return backend.UnhealthyStatus(0, err)
	}

	start := time.Now()

	if err := client.Ping(ctx).Err(); err != nil {
		return backend.UnhealthyStatus(time.Since(start), err)
	}

	return backend.HealthyStatus(time.Since(start))
}

var _ backend.CacheStore = (*Cache)(nil)

package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// invalidateLockKey serializes invalidation sweeps across every process
// sharing the server.
const invalidateLockKey = "searchkit:lock:invalidate"

// ErrLockNotAcquired is returned when the invalidation lock stays busy for
// every configured try.
var ErrLockNotAcquired = errors.New("redis: lock not acquired")

// LockOptions configures the distributed lock taken by Invalidate.
type LockOptions struct {
	// Expiry bounds how long a crashed holder can block other sweeps.
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultLockOptions waits up to about five seconds for a concurrent sweep.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Expiry:     30 * time.Second,
		Tries:      20,
		RetryDelay: 250 * time.Millisecond,
	}
}

// withLock runs fn while holding the distributed lock named key.
func (c *Cache) withLock(ctx context.Context, client redis.UniversalClient, key string, fn func(context.Context) error) error {
	opts := c.cfg.Lock

	mutex := redsync.New(goredis.NewPool(client)).NewMutex(key,
		redsync.WithExpiry(opts.Expiry),
		redsync.WithTries(opts.Tries),
		redsync.WithRetryDelay(opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLockNotAcquired, key, err)
	}

	defer func() {
		// The sweep may have been cancelled; the lock still has to go.
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
			c.cfg.Logger.Log(ctx, log.LevelWarn, "failed to release lock",
				log.String("lock_key", key), log.Bool("unlock_ok", ok), log.Err(err))
		}
	}()

	return fn(ctx)
}

package backend

import (
	"context"
	"time"
)

// Identity is the stable key that indexes breaker and health state.
type Identity string

// Backend identities.
const (
	Cache   Identity = "cache"
	Primary Identity = "primary"
)

// String implements fmt.Stringer.
func (id Identity) String() string {
	return string(id)
}

// Backend is the capability interface implemented by every store and cache.
type Backend interface {
	// Connect establishes the underlying connection. It returns an error
	// wrapping ErrConnection when the backend cannot be reached.
	Connect(ctx context.Context) error

	// Disconnect releases the connection. Calling it more than once is safe.
	Disconnect(ctx context.Context) error

	// Search runs query and must respect the deadline carried by ctx.
	Search(ctx context.Context, query string, opts Options) (Result, error)

	// CheckHealth never fails; an unhealthy backend is reported in the status.
	CheckHealth(ctx context.Context) HealthStatus
}

// CacheStore adds key/value operations to a Backend.
//
// Search on a cache looks up the result set stored under Fingerprint(query, opts)
// and returns ErrCacheMiss when nothing is stored.
type CacheStore interface {
	Backend

	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Invalidate removes every key matching the glob pattern and returns how many were removed.
	Invalidate(ctx context.Context, pattern string) (int, error)
}

// Indexer is implemented by primary stores that accept documents. Indexing a
// document whose ID already exists replaces it.
type Indexer interface {
	Index(ctx context.Context, docs ...Document) error
}

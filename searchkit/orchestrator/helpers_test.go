//go:build unit

package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/memory"
	"github.com/LerianStudio/lib-searchkit/searchkit/strategy"
	"github.com/stretchr/testify/require"
)

// stubPrimary returns a fixed result set and can be made to fail or stall.
type stubPrimary struct {
	mu      sync.Mutex
	items   []backend.Item
	err     error
	latency time.Duration
	calls   atomic.Int32
	closed  atomic.Int32
}

func (s *stubPrimary) Connect(context.Context) error    { return nil }
func (s *stubPrimary) Disconnect(context.Context) error { s.closed.Add(1); return nil }

func (s *stubPrimary) CheckHealth(context.Context) backend.HealthStatus {
	return backend.HealthyStatus(time.Millisecond)
}

func (s *stubPrimary) Search(ctx context.Context, _ string, opts backend.Options) (backend.Result, error) {
	s.calls.Add(1)

	s.mu.Lock()
	items, err, latency := append([]backend.Item(nil), s.items...), s.err, s.latency
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return backend.Result{}, ctx.Err()
		}
	}

	if err != nil {
		return backend.Result{}, err
	}

	return backend.Result{Items: backend.Page(items, opts.Offset, opts.Limit), Total: len(items)}, nil
}

func (s *stubPrimary) set(items []backend.Item, err error, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items, s.err, s.latency = items, err, latency
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Breaker.FailureThreshold = 3
	cfg.Breaker.RecoveryTimeout = time.Second
	cfg.Timeout = 500 * time.Millisecond

	return cfg
}

func newConnectedCache(t *testing.T) *memory.Cache {
	t.Helper()

	c := memory.NewCache()
	require.NoError(t, c.Connect(context.Background()))

	return c
}

func newConnectedStore(t *testing.T) *memory.Store {
	t.Helper()

	s := memory.NewStore(
		memory.Document{ID: "d1", Text: "resilient search facade"},
		memory.Document{ID: "d2", Text: "search engines and caches"},
		memory.Document{ID: "d3", Text: "circuit breakers"},
	)
	require.NoError(t, s.Connect(context.Background()))

	return s
}

func newTestOrchestrator(t *testing.T, cache backend.CacheStore, primary backend.Backend, mutate func(*Config), opts ...Option) *Orchestrator {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	o, err := New(cache, primary, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close(context.Background()) })

	return o
}

func seedCache(t *testing.T, c backend.CacheStore, query string, opts backend.Options, items ...backend.Item) {
	t.Helper()

	data, err := backend.EncodeResult(backend.Result{Items: items, Total: len(items)})
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), backend.Fingerprint(query, opts), data, 0))
}

func preferHybrid(cfg *Config) {
	cfg.Preference = strategy.PreferHybrid
}

//go:build unit

package redis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/backoff"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	cache, err := New(Config{
		Addresses: []string{mr.Addr()},
		Logger:    &log.NopLogger{},
	})
	require.NoError(t, err)
	require.NoError(t, cache.Connect(context.Background()))

	t.Cleanup(func() { _ = cache.Disconnect(context.Background()) })

	return cache, mr
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(Config{Addresses: []string{" ", ""}})
	require.ErrorIs(t, err, ErrNoAddress)
}

func TestCache_SetGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), 0))

	value, found, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), value)

	_, found, err = cache.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_SetHonoursTTL(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("k"))

	mr.FastForward(2 * time.Minute)

	_, found, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_SearchRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	opts := backend.Options{Limit: 10}

	_, err := cache.Search(ctx, "go", opts)
	require.ErrorIs(t, err, backend.ErrCacheMiss)

	data, err := backend.EncodeResult(backend.Result{
		Items: []backend.Item{{ID: "1", Score: 0.9, Source: backend.Primary}},
		Total: 1,
	})
	require.NoError(t, err)
	require.NoError(t, cache.Set(ctx, backend.Fingerprint("go", opts), data, time.Minute))

	result, err := cache.Search(ctx, "  GO ", opts)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, backend.Cache, result.Items[0].Source)
	assert.Equal(t, 1, result.Total)
}

func TestCache_SearchCorruptEntry(t *testing.T) {
	cache, mr := newTestCache(t)
	opts := backend.Options{Limit: 10}

	require.NoError(t, mr.Set(backend.Fingerprint("go", opts), "{not json"))

	_, err := cache.Search(context.Background(), "go", opts)
	require.ErrorIs(t, err, backend.ErrBackendUnavailable)
}

func TestCache_Invalidate(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	for i := range 450 {
		require.NoError(t, mr.Set(backend.KeyPrefix+time.Duration(i).String(), "x"))
	}

	require.NoError(t, mr.Set("other:key", "x"))

	removed, err := cache.Invalidate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 450, removed)
	assert.True(t, mr.Exists("other:key"))

	for _, key := range mr.Keys() {
		assert.False(t, strings.HasPrefix(key, backend.KeyPrefix), "key %q survived a multi-page sweep", key)
	}

	removed, err = cache.Invalidate(ctx, "other:*")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = cache.Invalidate(ctx, "bad\npattern")
	require.ErrorIs(t, err, ErrBadPattern)
	require.ErrorIs(t, err, backend.ErrInvalidQuery)
}

func TestCache_NotConnected(t *testing.T) {
	cache, err := New(Config{Addresses: []string{"127.0.0.1:1"}})
	require.NoError(t, err)

	ctx := context.Background()

	_, _, err = cache.Get(ctx, "k")
	require.ErrorIs(t, err, backend.ErrNotConnected)

	require.ErrorIs(t, cache.Set(ctx, "k", nil, 0), backend.ErrNotConnected)

	status := cache.CheckHealth(ctx)
	assert.False(t, status.Healthy())
	assert.NotEmpty(t, status.Errors)
}

func TestCache_ConnectFailureWrapsErrConnection(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cache, err := New(Config{
		Addresses:   []string{addr},
		DialTimeout: 100 * time.Millisecond,
		Retry:       backoff.Policy{Attempts: 2, Base: time.Millisecond, Max: 5 * time.Millisecond},
	})
	require.NoError(t, err)

	err = cache.Connect(context.Background())
	require.ErrorIs(t, err, backend.ErrConnection)

	var backendErr *backend.Error
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, backend.Cache, backendErr.Backend)
}

func TestCache_CheckHealth(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	status := cache.CheckHealth(ctx)
	assert.True(t, status.Healthy())

	mr.SetError("LOADING")

	status = cache.CheckHealth(ctx)
	assert.False(t, status.Healthy())

	mr.SetError("")
}

func TestCache_DisconnectIsIdempotent(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Disconnect(ctx))
	require.NoError(t, cache.Disconnect(ctx))

	_, _, err := cache.Get(ctx, "k")
	require.ErrorIs(t, err, backend.ErrNotConnected)
}

func TestCache_InvalidateReleasesLock(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, backend.KeyPrefix+"a", []byte("{}"), 0))

	removed, err := cache.Invalidate(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, mr.Exists(invalidateLockKey))
}

func TestCache_InvalidateWaitsForBusyLock(t *testing.T) {
	mr := miniredis.RunT(t)

	cache, err := New(Config{
		Addresses: []string{mr.Addr()},
		Lock:      LockOptions{Expiry: time.Second, Tries: 2, RetryDelay: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	require.NoError(t, cache.Connect(context.Background()))
	t.Cleanup(func() { _ = cache.Disconnect(context.Background()) })

	require.NoError(t, mr.Set(invalidateLockKey, "held-by-another-process"))

	_, err = cache.Invalidate(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	mr.Del(invalidateLockKey)

	_, err = cache.Invalidate(context.Background(), "")
	assert.NoError(t, err)
}

//go:build unit

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(Config{Path: filepath.Join(t.TempDir(), "search.db"), Logger: &log.NopLogger{}})
	require.NoError(t, err)
	require.NoError(t, store.Connect(context.Background()))

	t.Cleanup(func() { _ = store.Disconnect(context.Background()) })

	require.NoError(t, store.Index(context.Background(),
		backend.Document{ID: "a", Text: "circuit breaker patterns in Go", Fields: map[string]any{"lang": "go"}, CreatedAt: base},
		backend.Document{ID: "b", Text: "electrical circuit design", Fields: map[string]any{"lang": "en"}, CreatedAt: base.Add(time.Hour)},
		backend.Document{ID: "c", Text: "Go generics and breaker tricks", Fields: map[string]any{"lang": "go"}, CreatedAt: base.Add(2 * time.Hour)},
	))

	return store
}

func ids(items []backend.Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}

	return out
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrNoPath)
}

func TestStore_SearchRanksByRelevance(t *testing.T) {
	store := newTestStore(t)

	result, err := store.Search(context.Background(), "circuit breaker", backend.Options{Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	require.Len(t, result.Items, 3)
	assert.Equal(t, "a", result.Items[0].ID)

	for _, item := range result.Items {
		assert.Equal(t, backend.Primary, item.Source)
		assert.Contains(t, item.Payload, "text")
	}
}

func TestStore_SearchPagination(t *testing.T) {
	store := newTestStore(t)

	result, err := store.Search(context.Background(), "circuit breaker", backend.Options{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Len(t, result.Items, 1)

	result, err = store.Search(context.Background(), "circuit", backend.Options{Limit: 5, Offset: 50})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.NotNil(t, result.Items)
	assert.Empty(t, result.Items)
}

func TestStore_SearchFilters(t *testing.T) {
	store := newTestStore(t)

	result, err := store.Search(context.Background(), "circuit breaker", backend.Options{
		Limit:   10,
		Filters: map[string][]string{"lang": {"go"}},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, ids(result.Items))

	_, err = store.Search(context.Background(), "circuit", backend.Options{
		Filters: map[string][]string{"bad key'": {"x"}},
	})
	require.ErrorIs(t, err, backend.ErrInvalidQuery)
}

func TestStore_SearchSortByDate(t *testing.T) {
	store := newTestStore(t)

	result, err := store.Search(context.Background(), "circuit breaker", backend.Options{
		Limit: 10, SortBy: backend.SortDate, SortOrder: backend.SortAsc,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(result.Items))

	result, err = store.Search(context.Background(), "circuit breaker", backend.Options{
		Limit: 10, SortBy: backend.SortDate, SortOrder: backend.SortDesc,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(result.Items))
}

func TestStore_SearchEscapesOperators(t *testing.T) {
	store := newTestStore(t)

	result, err := store.Search(context.Background(), `breaker" OR NEAR(`, backend.Options{Limit: 10})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, ids(result.Items))

	_, err = store.Search(context.Background(), "   ", backend.Options{})
	require.ErrorIs(t, err, backend.ErrInvalidQuery)
}

func TestStore_IndexReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Index(ctx, backend.Document{ID: "b", Text: "gardening tips", CreatedAt: base}))

	result, err := store.Search(ctx, "circuit", backend.Options{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(result.Items))

	result, err = store.Search(ctx, "gardening", backend.Options{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(result.Items))
}

func TestStore_HonoursDeadline(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Search(ctx, "circuit", backend.Options{Limit: 10})
	require.Error(t, err)
}

func TestStore_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.True(t, store.CheckHealth(ctx).Healthy())

	require.NoError(t, store.Disconnect(ctx))
	require.NoError(t, store.Disconnect(ctx))

	assert.False(t, store.CheckHealth(ctx).Healthy())

	_, err := store.Search(ctx, "circuit", backend.Options{})
	require.ErrorIs(t, err, backend.ErrNotConnected)
}

//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	return dsn
}

func TestIntegration_Postgres_IndexAndSearch(t *testing.T) {
	dsn := setupPostgresContainer(t)
	ctx := context.Background()

	store, err := New(Config{
		PrimaryDSN:     dsn,
		RunMigrations:  true,
		TextSearchLang: "english",
		Logger:         log.NewNop(),
	})
	require.NoError(t, err)
	require.NoError(t, store.Connect(ctx))

	t.Cleanup(func() { _ = store.Disconnect(ctx) })

	assert.True(t, store.CheckHealth(ctx).Healthy())

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Index(ctx,
		backend.Document{ID: "a", Text: "circuit breakers protect services", Fields: map[string]any{"lang": "go"}, CreatedAt: base},
		backend.Document{ID: "b", Text: "an electrical circuit", Fields: map[string]any{"lang": "en"}, CreatedAt: base.Add(time.Hour)},
		backend.Document{ID: "c", Text: "unrelated text", CreatedAt: base.Add(2 * time.Hour)},
	))

	result, err := store.Search(ctx, "circuit breaker", backend.Options{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "a", result.Items[0].ID)
	assert.Equal(t, backend.Primary, result.Items[0].Source)

	result, err = store.Search(ctx, "circuit", backend.Options{Limit: 10, Filters: map[string][]string{"lang": {"en"}}})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "b", result.Items[0].ID)

	result, err = store.Search(ctx, "circuit", backend.Options{Limit: 10, Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Empty(t, result.Items)

	// A second Connect on a fresh store must find the schema already migrated.
	again, err := New(Config{PrimaryDSN: dsn, RunMigrations: true})
	require.NoError(t, err)
	require.NoError(t, again.Connect(ctx))
	require.NoError(t, again.Disconnect(ctx))
}

func TestIntegration_Postgres_DeadlineIsReported(t *testing.T) {
	dsn := setupPostgresContainer(t)
	ctx := context.Background()

	store, err := New(Config{PrimaryDSN: dsn, RunMigrations: true})
	require.NoError(t, err)
	require.NoError(t, store.Connect(ctx))

	t.Cleanup(func() { _ = store.Disconnect(ctx) })

	deadline, cancel := context.WithTimeout(ctx, time.Nanosecond)
	defer cancel()

	time.Sleep(time.Millisecond)

	_, err = store.Search(deadline, "anything", backend.Options{Limit: 1})
	require.Error(t, err)
	assert.True(t, backend.IsTimeout(backend.Classify(backend.Primary, err)))
}

//go:build unit

package registry

import (
	"testing"

	"github.com/LerianStudio/lib-searchkit/searchkit/badger"
	"github.com/LerianStudio/lib-searchkit/searchkit/config"
	"github.com/LerianStudio/lib-searchkit/searchkit/memory"
	"github.com/LerianStudio/lib-searchkit/searchkit/mongo"
	"github.com/LerianStudio/lib-searchkit/searchkit/postgres"
	"github.com/LerianStudio/lib-searchkit/searchkit/redis"
	"github.com/LerianStudio/lib-searchkit/searchkit/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCache(t *testing.T) {
	cfg := config.Default().Cache

	tests := []struct {
		kind config.CacheKind
		want any
	}{
		{config.CacheMemory, &memory.Cache{}},
		{config.CacheRedis, &redis.Cache{}},
		{config.CacheBadger, &badger.Cache{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			cfg.Kind = tt.kind

			cache, err := NewCache(cfg, Deps{})
			require.NoError(t, err)
			assert.IsType(t, tt.want, cache)
		})
	}
}

func TestNewPrimary(t *testing.T) {
	cfg := config.Default().Primary
	cfg.Postgres.PrimaryDSN = "postgres://localhost/db"
	cfg.Mongo.URI = "mongodb://localhost"

	tests := []struct {
		kind config.PrimaryKind
		want any
	}{
		{config.PrimaryMemory, &memory.Store{}},
		{config.PrimarySQLite, &sqlite.Store{}},
		{config.PrimaryPostgres, &postgres.Store{}},
		{config.PrimaryMongo, &mongo.Store{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			cfg.Kind = tt.kind

			primary, err := NewPrimary(cfg, Deps{})
			require.NoError(t, err)
			assert.IsType(t, tt.want, primary)
		})
	}
}

func TestUnknownKinds(t *testing.T) {
	_, err := NewCache(config.Cache{Kind: "memcached"}, Deps{})
	require.ErrorIs(t, err, config.ErrUnknownKind)

	_, err = NewPrimary(config.Primary{Kind: "elastic"}, Deps{})
	require.ErrorIs(t, err, config.ErrUnknownKind)
}

func TestAdapterErrorsAreWrapped(t *testing.T) {
	_, err := NewPrimary(config.Primary{Kind: config.PrimaryPostgres}, Deps{})
	require.ErrorIs(t, err, postgres.ErrNoDSN)

	_, err = NewCache(config.Cache{Kind: config.CacheRedis}, Deps{})
	require.ErrorIs(t, err, redis.ErrNoAddress)
}

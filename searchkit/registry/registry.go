// Package registry turns the configured backend kinds into concrete
// adapters. The set of kinds is closed; anything else is a configuration
// error.
package registry

import (
	"fmt"
	"strings"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/badger"
	"github.com/LerianStudio/lib-searchkit/searchkit/config"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/LerianStudio/lib-searchkit/searchkit/memory"
	"github.com/LerianStudio/lib-searchkit/searchkit/mongo"
	"github.com/LerianStudio/lib-searchkit/searchkit/postgres"
	"github.com/LerianStudio/lib-searchkit/searchkit/redis"
	"github.com/LerianStudio/lib-searchkit/searchkit/sqlite"
	"go.opentelemetry.io/otel/trace"
)

// Deps are shared by every adapter the registry builds.
type Deps struct {
	Logger log.Logger
	Tracer trace.Tracer
}

type (
	cacheFactory   func(config.Cache, Deps) (backend.CacheStore, error)
	primaryFactory func(config.Primary, Deps) (backend.Backend, error)
)

var cacheFactories = map[config.CacheKind]cacheFactory{
	config.CacheRedis: func(cfg config.Cache, deps Deps) (backend.CacheStore, error) {
		return redis.New(redis.Config{
			Addresses:   strings.Split(cfg.Redis.Address, ","),
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
			Logger:      deps.Logger,
			Tracer:      deps.Tracer,
		})
	},
	config.CacheBadger: func(cfg config.Cache, deps Deps) (backend.CacheStore, error) {
		return badger.New(badger.Config{
			Path:     cfg.Badger.Path,
			InMemory: cfg.Badger.InMemory,
			Logger:   deps.Logger,
		})
	},
	config.CacheMemory: func(config.Cache, Deps) (backend.CacheStore, error) {
		return memory.NewCache(), nil
	},
}

var primaryFactories = map[config.PrimaryKind]primaryFactory{
	config.PrimaryPostgres: func(cfg config.Primary, deps Deps) (backend.Backend, error) {
		return postgres.New(postgres.Config{
			PrimaryDSN:     cfg.Postgres.PrimaryDSN,
			ReplicaDSN:     cfg.Postgres.ReplicaDSN,
			MaxOpenConns:   cfg.Postgres.MaxOpenConns,
			RunMigrations:  cfg.Postgres.RunMigrations,
			TextSearchLang: cfg.Postgres.TextSearchLang,
			Logger:         deps.Logger,
			Tracer:         deps.Tracer,
		})
	},
	config.PrimarySQLite: func(cfg config.Primary, deps Deps) (backend.Backend, error) {
		return sqlite.New(sqlite.Config{Path: cfg.SQLite.Path, Logger: deps.Logger, Tracer: deps.Tracer})
	},
	config.PrimaryMongo: func(cfg config.Primary, deps Deps) (backend.Backend, error) {
		return mongo.New(mongo.Config{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
			Logger:     deps.Logger,
			Tracer:     deps.Tracer,
		})
	},
	config.PrimaryMemory: func(config.Primary, Deps) (backend.Backend, error) {
		return memory.NewStore(), nil
	},
}

// NewCache builds the cache selected by cfg.Kind. No connection is made.
func NewCache(cfg config.Cache, deps Deps) (backend.CacheStore, error) {
	factory, ok := cacheFactories[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: cache kind %q", config.ErrUnknownKind, cfg.Kind)
	}

	cache, err := factory(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("build %s cache: %w", cfg.Kind, err)
	}

	return cache, nil
}

// NewPrimary builds the primary store selected by cfg.Kind. No connection is made.
func NewPrimary(cfg config.Primary, deps Deps) (backend.Backend, error) {
	factory, ok := primaryFactories[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: primary kind %q", config.ErrUnknownKind, cfg.Kind)
	}

	primary, err := factory(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("build %s primary: %w", cfg.Kind, err)
	}

	return primary, nil
}

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/circuitbreaker"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/LerianStudio/lib-searchkit/searchkit/merge"
	"github.com/LerianStudio/lib-searchkit/searchkit/opentelemetry"
	"github.com/LerianStudio/lib-searchkit/searchkit/orchestrator"
	"github.com/LerianStudio/lib-searchkit/searchkit/strategy"
	"github.com/LerianStudio/lib-searchkit/searchkit/zap"
	"gopkg.in/yaml.v3"
)

// ErrReadConfig reports a configuration file that could not be read or parsed.
var ErrReadConfig = errors.New("config: cannot read configuration")

// CacheKind is the closed set of cache implementations.
type CacheKind string

// Supported cache kinds.
const (
	CacheRedis  CacheKind = "redis"
	CacheBadger CacheKind = "badger"
	CacheMemory CacheKind = "memory"
)

// PrimaryKind is the closed set of primary store implementations.
type PrimaryKind string

// Supported primary kinds.
const (
	PrimaryPostgres PrimaryKind = "postgres"
	PrimarySQLite   PrimaryKind = "sqlite"
	PrimaryMongo    PrimaryKind = "mongo"
	PrimaryMemory   PrimaryKind = "memory"
)

// Config is the full searchkit configuration.
type Config struct {
	CircuitBreaker CircuitBreaker `yaml:"circuitBreaker"`
	Strategy       Strategy       `yaml:"strategy"`
	Performance    Performance    `yaml:"performance"`
	Search         Search         `yaml:"search"`
	Cache          Cache          `yaml:"cache"`
	Primary        Primary        `yaml:"primary"`
	Logging        Logging        `yaml:"logging"`
	HTTP           HTTP           `yaml:"http"`
	Telemetry      Telemetry      `yaml:"telemetry"`
}

// CircuitBreaker holds breaker thresholds and health probing settings.
type CircuitBreaker struct {
	FailureThreshold    uint32        `yaml:"failureThreshold" env:"SEARCHKIT_BREAKER_FAILURE_THRESHOLD" validate:"gte=1"`
	RecoveryTimeout     time.Duration `yaml:"recoveryTimeout" env:"SEARCHKIT_BREAKER_RECOVERY_TIMEOUT" validate:"gt=0"`
	HealthCacheTTL      time.Duration `yaml:"healthCacheTTL" env:"SEARCHKIT_HEALTH_CACHE_TTL" validate:"gt=0"`
	HealthCheckInterval time.Duration `yaml:"healthCheckInterval" env:"SEARCHKIT_HEALTH_CHECK_INTERVAL" validate:"gte=0"`
	ProbeTimeout        time.Duration `yaml:"probeTimeout" env:"SEARCHKIT_HEALTH_PROBE_TIMEOUT" validate:"gt=0"`
}

// Strategy holds routing and merge settings.
type Strategy struct {
	Preferred   string        `yaml:"preferred" env:"SEARCHKIT_STRATEGY" validate:"oneof=cache-first database-only circuit-breaker hybrid auto"`
	MergePolicy string        `yaml:"mergePolicy" env:"SEARCHKIT_MERGE_POLICY" validate:"oneof=union intersection weighted"`
	Priority    string        `yaml:"priority" env:"SEARCHKIT_MERGE_PRIORITY" validate:"oneof=cache primary"`
	Weights     merge.Weights `yaml:"weights"`
}

// Performance holds telemetry settings.
type Performance struct {
	EnableMetrics        bool  `yaml:"enableMetrics" env:"SEARCHKIT_ENABLE_METRICS"`
	SlowQueryThresholdMs int64 `yaml:"slowQueryThresholdMs" env:"SEARCHKIT_SLOW_QUERY_THRESHOLD_MS" validate:"gte=0"`
}

// Search holds per-call defaults and bounds.
type Search struct {
	MaxLimit     int           `yaml:"maxLimit" env:"SEARCHKIT_MAX_LIMIT" validate:"gte=1"`
	DefaultLimit int           `yaml:"defaultLimit" env:"SEARCHKIT_DEFAULT_LIMIT" validate:"gte=1,ltefield=MaxLimit"`
	Timeout      time.Duration `yaml:"timeout" env:"SEARCHKIT_SEARCH_TIMEOUT" validate:"gt=0"`
	CacheTTL     time.Duration `yaml:"cacheTTL" env:"SEARCHKIT_CACHE_TTL" validate:"gte=0"`
}

// Cache selects and configures the cache backend.
type Cache struct {
	Kind   CacheKind `yaml:"kind" env:"SEARCHKIT_CACHE_KIND"`
	Redis  Redis     `yaml:"redis"`
	Badger Badger    `yaml:"badger"`
}

// Redis configures the Redis cache.
type Redis struct {
	Address     string        `yaml:"address" env:"SEARCHKIT_REDIS_ADDRESS"`
	Password    string        `yaml:"password" env:"SEARCHKIT_REDIS_PASSWORD"`
	DB          int           `yaml:"db" env:"SEARCHKIT_REDIS_DB" validate:"gte=0"`
	PoolSize    int           `yaml:"poolSize" env:"SEARCHKIT_REDIS_POOL_SIZE" validate:"gte=0"`
	DialTimeout time.Duration `yaml:"dialTimeout" env:"SEARCHKIT_REDIS_DIAL_TIMEOUT" validate:"gte=0"`
}

// Badger configures the embedded Badger cache.
type Badger struct {
	Path     string `yaml:"path" env:"SEARCHKIT_BADGER_PATH"`
	InMemory bool   `yaml:"inMemory" env:"SEARCHKIT_BADGER_IN_MEMORY"`
}

// Primary selects and configures the primary store.
type Primary struct {
	Kind     PrimaryKind `yaml:"kind" env:"SEARCHKIT_PRIMARY_KIND"`
	Postgres Postgres    `yaml:"postgres"`
	SQLite   SQLite      `yaml:"sqlite"`
	Mongo    Mongo       `yaml:"mongo"`
}

// Postgres configures the PostgreSQL store.
type Postgres struct {
	PrimaryDSN     string `yaml:"primaryDSN" env:"SEARCHKIT_POSTGRES_PRIMARY_DSN"`
	ReplicaDSN     string `yaml:"replicaDSN" env:"SEARCHKIT_POSTGRES_REPLICA_DSN"`
	MaxOpenConns   int    `yaml:"maxOpenConns" env:"SEARCHKIT_POSTGRES_MAX_OPEN_CONNS" validate:"gte=0"`
	RunMigrations  bool   `yaml:"runMigrations" env:"SEARCHKIT_POSTGRES_RUN_MIGRATIONS"`
	TextSearchLang string `yaml:"textSearchLang" env:"SEARCHKIT_POSTGRES_TEXT_SEARCH_LANG"`
}

// SQLite configures the SQLite FTS5 store.
type SQLite struct {
	Path string `yaml:"path" env:"SEARCHKIT_SQLITE_PATH"`
}

// Mongo configures the MongoDB store.
type Mongo struct {
	URI        string `yaml:"uri" env:"SEARCHKIT_MONGO_URI"`
	Database   string `yaml:"database" env:"SEARCHKIT_MONGO_DATABASE"`
	Collection string `yaml:"collection" env:"SEARCHKIT_MONGO_COLLECTION"`
}

// Logging configures the zap logger.
type Logging struct {
	Environment string `yaml:"environment" env:"SEARCHKIT_LOG_ENVIRONMENT" validate:"oneof=production staging development local"`
	Level       string `yaml:"level" env:"SEARCHKIT_LOG_LEVEL"`
}

// HTTP configures the optional HTTP surface.
type HTTP struct {
	Address string `yaml:"address" env:"SEARCHKIT_HTTP_ADDRESS"`
}

// Telemetry configures OTLP export of spans, metrics and logs.
type Telemetry struct {
	Enabled           bool   `yaml:"enabled" env:"SEARCHKIT_TELEMETRY_ENABLED"`
	CollectorEndpoint string `yaml:"collectorEndpoint" env:"SEARCHKIT_TELEMETRY_ENDPOINT" validate:"required_if=Enabled true"`
	ServiceName       string `yaml:"serviceName" env:"SEARCHKIT_SERVICE_NAME"`
	ServiceVersion    string `yaml:"serviceVersion" env:"SEARCHKIT_SERVICE_VERSION"`
	// SystemMetricsInterval is how often host CPU and memory gauges are
	// sampled while serving. Zero disables sampling.
	SystemMetricsInterval time.Duration `yaml:"systemMetricsInterval" env:"SEARCHKIT_SYSTEM_METRICS_INTERVAL" validate:"gte=0"`
}

// Default returns the built-in configuration: a memory cache in front of a
// memory store with the library defaults.
func Default() Config {
	return Config{
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 3,
			RecoveryTimeout:  30 * time.Second,
			HealthCacheTTL:   15 * time.Second,
			ProbeTimeout:     2 * time.Second,
		},
		Strategy: Strategy{
			Preferred:   string(strategy.PreferAuto),
			MergePolicy: string(merge.Union),
			Priority:    string(backend.Cache),
			Weights:     merge.DefaultWeights,
		},
		Performance: Performance{EnableMetrics: true, SlowQueryThresholdMs: 500},
		Search: Search{
			MaxLimit:     100,
			DefaultLimit: 20,
			Timeout:      2 * time.Second,
			CacheTTL:     5 * time.Minute,
		},
		Cache: Cache{
			Kind:   CacheMemory,
			Redis:  Redis{Address: "localhost:6379", DialTimeout: 5 * time.Second},
			Badger: Badger{InMemory: true},
		},
		Primary: Primary{
			Kind:     PrimaryMemory,
			Postgres: Postgres{MaxOpenConns: 10, RunMigrations: true, TextSearchLang: "english"},
			SQLite:   SQLite{Path: "searchkit.db"},
			Mongo:    Mongo{Database: "searchkit", Collection: "documents"},
		},
		Logging: Logging{Environment: string(zap.EnvironmentProduction), Level: "info"},
		HTTP:    HTTP{Address: ":8080"},
		Telemetry: Telemetry{
			ServiceName:           "searchkit",
			ServiceVersion:        "dev",
			SystemMetricsInterval: 30 * time.Second,
		},
	}
}

// Load reads path (skipped when empty), applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrReadConfig, err)
		}

		if err := decode(bytes.NewReader(data), &cfg); err != nil {
			return Config{}, err
		}
	}

	return finish(cfg)
}

// Parse is Load for an in-memory YAML document.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()

	if err := decode(r, &cfg); err != nil {
		return Config{}, err
	}

	return finish(cfg)
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrReadConfig, err)
	}

	return nil
}

func finish(cfg Config) (Config, error) {
	if err := SetConfigFromEnvVars(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Orchestrator converts the configuration into orchestrator settings.
func (c Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		Breaker: circuitbreaker.Config{
			FailureThreshold: c.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:  c.CircuitBreaker.RecoveryTimeout,
		},
		HealthCacheTTL:      c.CircuitBreaker.HealthCacheTTL,
		HealthCheckInterval: c.CircuitBreaker.HealthCheckInterval,
		ProbeTimeout:        c.CircuitBreaker.ProbeTimeout,
		Preference:          strategy.Preference(c.Strategy.Preferred),
		MergePolicy:         merge.Policy(c.Strategy.MergePolicy),
		Priority:            backend.Identity(c.Strategy.Priority),
		Weights:             c.Strategy.Weights,
		EnableMetrics:       c.Performance.EnableMetrics,
		SlowQueryThreshold:  time.Duration(c.Performance.SlowQueryThresholdMs) * time.Millisecond,
		MaxLimit:            c.Search.MaxLimit,
		Timeout:             c.Search.Timeout,
		CacheTTL:            c.Search.CacheTTL,
	}
}

// OpenTelemetry converts the telemetry section into exporter settings.
func (c Config) OpenTelemetry(libraryName string, logger log.Logger) opentelemetry.TelemetryConfig {
	return opentelemetry.TelemetryConfig{
		LibraryName:               libraryName,
		ServiceName:               c.Telemetry.ServiceName,
		ServiceVersion:            c.Telemetry.ServiceVersion,
		DeploymentEnv:             c.Logging.Environment,
		CollectorExporterEndpoint: c.Telemetry.CollectorEndpoint,
		EnableTelemetry:           c.Telemetry.Enabled,
		Logger:                    logger,
	}
}

// ProductionMode reports whether recovered panic details should be redacted.
func (c Config) ProductionMode() bool {
	return zap.Environment(c.Logging.Environment) == zap.EnvironmentProduction
}

// Zap converts the logging section into a zap logger configuration.
func (c Config) Zap(libraryName string) zap.Config {
	return zap.Config{
		Environment:     zap.Environment(c.Logging.Environment),
		Level:           c.Logging.Level,
		OTelLibraryName: libraryName,
	}
}

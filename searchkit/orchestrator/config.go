package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/circuitbreaker"
	"github.com/LerianStudio/lib-searchkit/searchkit/merge"
	"github.com/LerianStudio/lib-searchkit/searchkit/strategy"
)

// ErrInvalidConfig reports a rejected orchestrator configuration.
var ErrInvalidConfig = errors.New("orchestrator: invalid config")

// Config holds the settings the orchestrator consumes.
type Config struct {
	Breaker        circuitbreaker.Config
	HealthCacheTTL time.Duration
	// HealthCheckInterval enables the background health loop when positive.
	HealthCheckInterval time.Duration
	ProbeTimeout        time.Duration

	Preference  strategy.Preference
	MergePolicy merge.Policy
	Priority    backend.Identity
	Weights     merge.Weights

	EnableMetrics      bool
	SlowQueryThreshold time.Duration

	MaxLimit int
	// Timeout is the per-backend deadline used when Options.Timeout is zero.
	Timeout time.Duration
	// CacheTTL is the write-through TTL used when Options.CacheTTL is zero.
	CacheTTL time.Duration
}

// DefaultConfig returns the library defaults.
func DefaultConfig() Config {
	return Config{
		Breaker:            circuitbreaker.DefaultConfig(),
		HealthCacheTTL:     15 * time.Second,
		ProbeTimeout:       2 * time.Second,
		Preference:         strategy.PreferAuto,
		MergePolicy:        merge.Union,
		Priority:           backend.Cache,
		Weights:            merge.DefaultWeights,
		EnableMetrics:      true,
		SlowQueryThreshold: 500 * time.Millisecond,
		MaxLimit:           100,
		Timeout:            2 * time.Second,
		CacheTTL:           5 * time.Minute,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Breaker.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch {
	case c.HealthCacheTTL <= 0:
		return fmt.Errorf("%w: health cache TTL must be positive", ErrInvalidConfig)
	case c.MaxLimit < 1:
		return fmt.Errorf("%w: max limit must be at least 1", ErrInvalidConfig)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	case c.CacheTTL < 0:
		return fmt.Errorf("%w: cache TTL must not be negative", ErrInvalidConfig)
	case c.SlowQueryThreshold < 0:
		return fmt.Errorf("%w: slow query threshold must not be negative", ErrInvalidConfig)
	case c.Weights.Cache < 0 || c.Weights.Primary < 0:
		return fmt.Errorf("%w: merge weights must not be negative", ErrInvalidConfig)
	case c.Priority != backend.Cache && c.Priority != backend.Primary:
		return fmt.Errorf("%w: priority must be %q or %q", ErrInvalidConfig, backend.Cache, backend.Primary)
	}

	if _, err := strategy.ParsePreference(string(c.Preference)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if _, err := merge.ParsePolicy(string(c.MergePolicy)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

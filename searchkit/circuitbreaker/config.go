package circuitbreaker

import (
	"fmt"
	"time"
)

// Config holds the breaker thresholds of one backend.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold uint32
	// RecoveryTimeout is how long the circuit stays open before a half-open trial.
	RecoveryTimeout time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.FailureThreshold == 0 {
		return fmt.Errorf("%w: FailureThreshold must be at least 1", ErrInvalidConfig)
	}

	if c.RecoveryTimeout <= 0 {
		return fmt.Errorf("%w: RecoveryTimeout must be positive", ErrInvalidConfig)
	}

	return nil
}

// DefaultConfig provides balanced settings for most backends.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// CacheConfig trips fast; a cache can always be bypassed.
func CacheConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  15 * time.Second,
	}
}

// DatabaseConfig is more tolerant, since the primary store is the source of
// truth and short network blips should not isolate it.
func DatabaseConfig() Config {
	return Config{
		FailureThreshold: 10,
		RecoveryTimeout:  time.Minute,
	}
}

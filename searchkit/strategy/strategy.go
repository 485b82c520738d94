package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
)

// Strategy is the execution plan for one search.
type Strategy string

// Execution strategies.
const (
	CacheOnly              Strategy = "cache-only"
	PrimaryOnly            Strategy = "primary-only"
	CircuitGuardedFallback Strategy = "circuit-guarded-fallback"
	Hybrid                 Strategy = "hybrid"
)

// String implements fmt.Stringer.
func (s Strategy) String() string {
	return string(s)
}

// Preference is the configured strategy preference.
type Preference string

// Configurable preferences.
const (
	PreferCacheFirst     Preference = "cache-first"
	PreferDatabaseOnly   Preference = "database-only"
	PreferCircuitBreaker Preference = "circuit-breaker"
	PreferHybrid         Preference = "hybrid"
	PreferAuto           Preference = "auto"
)

// ErrUnknownPreference reports an unsupported preference name.
var ErrUnknownPreference = errors.New("strategy: unknown preference")

// ParsePreference maps a configuration string to a Preference. An empty
// string means PreferAuto.
func ParsePreference(s string) (Preference, error) {
	switch p := Preference(strings.ToLower(strings.TrimSpace(s))); p {
	case PreferCacheFirst, PreferDatabaseOnly, PreferCircuitBreaker, PreferHybrid, PreferAuto:
		return p, nil
	case "":
		return PreferAuto, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPreference, s)
	}
}

// Input is everything Select looks at.
type Input struct {
	CacheHealth      backend.HealthStatus
	PrimaryHealth    backend.HealthStatus
	CacheAvailable   bool
	PrimaryAvailable bool
	Options          backend.Options
	Preference       Preference
}

// Select applies the ordered policy; the first matching rule wins:
//
//  1. cache disabled for the call, or a database-only preference → PrimaryOnly
//  2. cache breaker unavailable or cache not connected → PrimaryOnly
//  3. primary breaker unavailable or primary not connected, cache healthy → CacheOnly
//  4. both healthy and hybrid preferred → Hybrid
//  5. otherwise → CircuitGuardedFallback
func Select(in Input) Strategy {
	if in.Options.DisableCache || in.Preference == PreferDatabaseOnly {
		return PrimaryOnly
	}

	if !in.CacheAvailable || !in.CacheHealth.Connected {
		return PrimaryOnly
	}

	primaryDown := !in.PrimaryAvailable || !in.PrimaryHealth.Connected
	if primaryDown && in.CacheHealth.Healthy() {
		return CacheOnly
	}

	if in.Preference == PreferHybrid && !primaryDown && in.CacheHealth.Healthy() && in.PrimaryHealth.Healthy() {
		return Hybrid
	}

	return CircuitGuardedFallback
}

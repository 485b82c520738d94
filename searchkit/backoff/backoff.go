package backoff

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	mrand "math/rand/v2"
	"time"
)

const maxShift = 62

// Exponential returns base * 2^attempt with overflow protection.
// Negative attempts are treated as 0.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1) << attempt

	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(int64(base) * multiplier)
}

// FullJitter returns a random duration in [0, delay).
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(delay)))
	if err != nil {
		return time.Duration(fallbackRand(int64(delay)))
	}

	return time.Duration(n.Int64())
}

// fallbackRand seeds a PCG generator from crypto/rand and falls back to the
// midpoint when even seeding fails, so jitter never blocks.
func fallbackRand(maxValue int64) int64 {
	var seed [8]byte

	if _, err := rand.Read(seed[:]); err != nil {
		return maxValue / 2
	}

	rng := mrand.New(mrand.NewPCG(binary.LittleEndian.Uint64(seed[:]), 0)) // #nosec G404

	return rng.Int64N(maxValue)
}

// ExponentialWithJitter returns a random duration in [0, base * 2^attempt),
// capped at maxDelay when maxDelay is positive.
func ExponentialWithJitter(base time.Duration, attempt int, maxDelay time.Duration) time.Duration {
	delay := Exponential(base, attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	return FullJitter(delay)
}

// SleepWithContext sleeps for duration unless ctx is done first.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}

// Policy bounds a retry loop.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// DefaultPolicy is used by backend adapters when connecting.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Base: 100 * time.Millisecond, Max: 2 * time.Second}
}

// Retry calls fn until it succeeds, the attempts are exhausted or ctx is done.
// The last error from fn is returned.
func Retry(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error

	for attempt := range attempts {
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}

		if attempt == attempts-1 {
			break
		}

		if err := SleepWithContext(ctx, ExponentialWithJitter(policy.Base, attempt, policy.Max)); err != nil {
			return fmt.Errorf("%w (last error: %w)", err, lastErr)
		}
	}

	return lastErr
}

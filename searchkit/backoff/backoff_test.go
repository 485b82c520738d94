//go:build unit

package backoff

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponential(t *testing.T) {
	assert.Equal(t, time.Duration(0), Exponential(0, 3))
	assert.Equal(t, 100*time.Millisecond, Exponential(100*time.Millisecond, -1))
	assert.Equal(t, 400*time.Millisecond, Exponential(100*time.Millisecond, 2))
	assert.Equal(t, time.Duration(math.MaxInt64), Exponential(time.Hour, 100))
}

func TestFullJitterRange(t *testing.T) {
	assert.Equal(t, time.Duration(0), FullJitter(0))

	for range 100 {
		d := FullJitter(50 * time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 50*time.Millisecond)
	}
}

func TestExponentialWithJitterRespectsCap(t *testing.T) {
	for range 50 {
		assert.Less(t, ExponentialWithJitter(time.Second, 10, 20*time.Millisecond), 20*time.Millisecond)
	}
}

func TestSleepWithContext(t *testing.T) {
	require.NoError(t, SleepWithContext(context.Background(), 0))
	require.NoError(t, SleepWithContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SleepWithContext(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0

	err := Retry(context.Background(), Policy{Attempts: 3, Base: time.Millisecond, Max: 2 * time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ReturnsLastError(t *testing.T) {
	calls := 0
	errDial := errors.New("dial refused")

	err := Retry(context.Background(), Policy{Attempts: 2, Base: time.Millisecond}, func(context.Context) error {
		calls++
		return errDial
	})

	assert.ErrorIs(t, err, errDial)
	assert.Equal(t, 2, calls)
}

func TestRetry_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errDial := errors.New("dial refused")

	err := Retry(ctx, Policy{Attempts: 5, Base: time.Hour}, func(context.Context) error {
		cancel()
		return errDial
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errDial)
}

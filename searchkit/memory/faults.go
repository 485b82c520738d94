package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
)

// faults holds the failure behaviour injected into a backend.
type faults struct {
	mu      sync.RWMutex
	err     error
	latency time.Duration
	health  *backend.HealthStatus

	calls atomic.Int64
}

// FailWith makes every following Search return err; on a Cache it also fails
// Set and Invalidate. A nil err clears it.
func (f *faults) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.err = err
}

// SetLatency delays every following Search by d, or until the context ends.
func (f *faults) SetLatency(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.latency = d
}

// SetHealth overrides the status reported by CheckHealth. Nil restores the real one.
func (f *faults) SetHealth(status *backend.HealthStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.health = status
}

// SearchCalls returns how many times Search was invoked.
func (f *faults) SearchCalls() int64 {
	return f.calls.Load()
}

// enter counts the call, waits out the injected latency and returns the
// injected error, if any.
func (f *faults) enter(ctx context.Context) error {
	f.calls.Add(1)

	f.mu.RLock()
	err, latency := f.err, f.latency
	f.mu.RUnlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return err
}

// injected returns the injected error without counting a call or waiting.
func (f *faults) injected() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.err
}

func (f *faults) healthOverride() (backend.HealthStatus, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.health == nil {
		return backend.HealthStatus{}, false
	}

	status := *f.health
	status.CheckedAt = time.Now()

	return status, true
}

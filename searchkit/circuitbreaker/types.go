package circuitbreaker

import (
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
)

var (
	// ErrInvalidConfig reports a rejected breaker configuration.
	ErrInvalidConfig = errors.New("circuitbreaker: invalid config")
	// ErrNilLogger reports a missing logger.
	ErrNilLogger = errors.New("circuitbreaker: logger is nil")
	// ErrUnknownBackend reports an operation on a backend that was never registered.
	ErrUnknownBackend = errors.New("circuitbreaker: backend not registered")
	// ErrCircuitOpen is returned by Acquire while the circuit is open.
	ErrCircuitOpen = fmt.Errorf("circuit breaker open: %w", backend.ErrBackendUnavailable)
	// ErrTrialInFlight is returned by Acquire while the half-open trial is taken.
	ErrTrialInFlight = fmt.Errorf("circuit breaker half-open trial in flight: %w", backend.ErrBackendUnavailable)
)

// Manager owns the breakers of every registered backend.
type Manager interface {
	// Register creates the breaker for id. Registering an id twice keeps the first breaker.
	Register(id backend.Identity, config Config) error

	// Acquire asks permission to call id. The returned Permit must be settled
	// with Success or Failure.
	Acquire(id backend.Identity) (*Permit, error)

	// RecordSuccess reports a success observed outside a permit.
	RecordSuccess(id backend.Identity)

	// RecordFailure reports a failure observed outside a permit.
	RecordFailure(id backend.Identity)

	// IsAvailable reports whether a call to id would currently be let through.
	IsAvailable(id backend.Identity) bool

	// State returns the current state, or StateUnknown for unregistered backends.
	State(id backend.Identity) State

	// Snapshot returns a consistent view of the breaker.
	Snapshot(id backend.Identity) Snapshot

	// Reset forces the breaker back to Closed with a zero failure count.
	Reset(id backend.Identity)

	// RegisterStateChangeListener adds a listener notified on every transition.
	RegisterStateChangeListener(listener StateChangeListener)
}

// State represents circuit breaker state.
type State string

// Breaker states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
	StateUnknown  State = "unknown"
)

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Backend backend.Identity `json:"backend"`
	State   State            `json:"state"`
	// FailureCount is the consecutive failure count; it only matters while Closed or HalfOpen.
	FailureCount uint32 `json:"failureCount"`
	// OpenedAt and NextRetryAt are set only while Open.
	OpenedAt    time.Time `json:"openedAt,omitzero"`
	NextRetryAt time.Time `json:"nextRetryAt,omitzero"`
}

// StateChangeListener is notified asynchronously when a breaker changes state.
type StateChangeListener interface {
	OnStateChange(id backend.Identity, from State, to State)
}

// StateChangeFunc adapts a function to StateChangeListener.
type StateChangeFunc func(id backend.Identity, from State, to State)

// OnStateChange implements StateChangeListener.
func (f StateChangeFunc) OnStateChange(id backend.Identity, from State, to State) {
	f(id, from, to)
}

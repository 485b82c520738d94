package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	constant "github.com/LerianStudio/lib-searchkit/searchkit/constants"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/LerianStudio/lib-searchkit/searchkit/opentelemetry/metrics"
	"github.com/LerianStudio/lib-searchkit/searchkit/runtime"
	"github.com/sony/gobreaker"
)

var (
	stateTransitionMetric = metrics.Metric{
		Name:        constant.MetricBreakerStateTransitionTotal,
		Unit:        "1",
		Description: "Total number of circuit breaker state transitions",
	}

	executionMetric = metrics.Metric{
		Name:        constant.MetricBreakerExecutionsTotal,
		Unit:        "1",
		Description: "Total number of calls gated by a circuit breaker, by outcome",
	}
)

// breaker pairs a gobreaker state machine with the moment it last opened.
type breaker struct {
	cb     *gobreaker.TwoStepCircuitBreaker
	config Config
	// openedAt is written from inside gobreaker's transition callback, so it
	// always agrees with the state that callback installed.
	openedAt atomic.Int64
}

type manager struct {
	breakers       map[backend.Identity]*breaker
	mu             sync.RWMutex
	listeners      []StateChangeListener
	listenersMu    sync.RWMutex
	logger         log.Logger
	metricsFactory *metrics.MetricsFactory
}

// Option configures a Manager.
type Option func(*manager)

// WithMetricsFactory enables transition and execution counters.
func WithMetricsFactory(factory *metrics.MetricsFactory) Option {
	return func(m *manager) {
		m.metricsFactory = factory
	}
}

// NewManager creates a new circuit breaker manager.
func NewManager(logger log.Logger, opts ...Option) (Manager, error) {
	if logger == nil {
		return nil, ErrNilLogger
	}

	m := &manager{
		breakers: make(map[backend.Identity]*breaker),
		logger:   logger,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

func (m *manager) Register(id backend.Identity, config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.breakers[id]; exists {
		return nil
	}

	m.breakers[id] = m.newBreaker(id, config)

	m.logger.Log(context.Background(), log.LevelInfo, "circuit breaker registered",
		log.String("backend", id.String()),
		log.Int("failure_threshold", int(config.FailureThreshold)),
		log.Duration("recovery_timeout", config.RecoveryTimeout))

	return nil
}

func (m *manager) newBreaker(id backend.Identity, config Config) *breaker {
	b := &breaker{config: config}

	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        "searchkit-" + id.String(),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     config.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
			switch to {
			case gobreaker.StateOpen:
				b.openedAt.Store(time.Now().UnixNano())
			case gobreaker.StateClosed:
				b.openedAt.Store(0)
			}

			m.handleStateChange(id, convertState(from), convertState(to))
		},
	})

	return b
}

func (m *manager) lookup(id backend.Identity) (*breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.breakers[id]

	return b, ok
}

func (m *manager) Acquire(id backend.Identity) (*Permit, error) {
	b, ok := m.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}

	done, err := b.cb.Allow()
	if err != nil {
		m.recordExecution(id, "rejected")

		switch {
		case errors.Is(err, gobreaker.ErrOpenState):
			m.logger.Log(context.Background(), log.LevelDebug, "circuit breaker open, call short-circuited",
				log.String("backend", id.String()))

			return nil, fmt.Errorf("%s: %w", id, ErrCircuitOpen)
		case errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, fmt.Errorf("%s: %w", id, ErrTrialInFlight)
		default:
			return nil, fmt.Errorf("%s: %w", id, err)
		}
	}

	trial := b.cb.State() == gobreaker.StateHalfOpen

	return &Permit{backend: id, done: done, manager: m, trial: trial}, nil
}

func (m *manager) RecordSuccess(id backend.Identity) {
	m.record(id, true)
}

func (m *manager) RecordFailure(id backend.Identity) {
	m.record(id, false)
}

// record acquires and settles a permit in one step; while Open there is
// nothing to record.
func (m *manager) record(id backend.Identity, success bool) {
	permit, err := m.Acquire(id)
	if err != nil {
		return
	}

	if success {
		permit.Success()
	} else {
		permit.Failure()
	}
}

func (m *manager) IsAvailable(id backend.Identity) bool {
	b, ok := m.lookup(id)
	if !ok {
		return false
	}

	switch b.cb.State() {
	case gobreaker.StateClosed:
		return true
	case gobreaker.StateHalfOpen:
		return b.cb.Counts().Requests < 1
	default:
		return false
	}
}

func (m *manager) State(id backend.Identity) State {
	b, ok := m.lookup(id)
	if !ok {
		return StateUnknown
	}

	return convertState(b.cb.State())
}

func (m *manager) Snapshot(id backend.Identity) Snapshot {
	b, ok := m.lookup(id)
	if !ok {
		return Snapshot{Backend: id, State: StateUnknown}
	}

	state := convertState(b.cb.State())
	snapshot := Snapshot{
		Backend:      id,
		State:        state,
		FailureCount: b.cb.Counts().ConsecutiveFailures,
	}

	if state == StateOpen {
		if nanos := b.openedAt.Load(); nanos != 0 {
			snapshot.OpenedAt = time.Unix(0, nanos)
			snapshot.NextRetryAt = snapshot.OpenedAt.Add(b.config.RecoveryTimeout)
		}
	}

	return snapshot
}

func (m *manager) Reset(id backend.Identity) {
	m.mu.Lock()

	old, exists := m.breakers[id]
	if !exists {
		m.mu.Unlock()
		return
	}

	from := convertState(old.cb.State())
	m.breakers[id] = m.newBreaker(id, old.config)
	m.mu.Unlock()

	m.logger.Log(context.Background(), log.LevelInfo, "circuit breaker reset", log.String("backend", id.String()))

	if from != StateClosed {
		m.handleStateChange(id, from, StateClosed)
	}
}

func (m *manager) RegisterStateChangeListener(listener StateChangeListener) {
	if listener == nil {
		m.logger.Log(context.Background(), log.LevelWarn, "attempted to register a nil state change listener")
		return
	}

	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	m.listeners = append(m.listeners, listener)
}

// handleStateChange runs inside gobreaker's transition callback and must not
// call back into the breaker.
func (m *manager) handleStateChange(id backend.Identity, from State, to State) {
	ctx := context.Background()
	fields := []log.Field{
		log.String("backend", id.String()),
		log.String("from", string(from)),
		log.String("to", string(to)),
	}

	switch to {
	case StateOpen:
		m.logger.Log(ctx, log.LevelError, "circuit breaker opened, calls will short-circuit", fields...)
	case StateHalfOpen:
		m.logger.Log(ctx, log.LevelInfo, "circuit breaker half-open, allowing one trial call", fields...)
	default:
		m.logger.Log(ctx, log.LevelInfo, "circuit breaker closed", fields...)
	}

	m.recordTransition(id, from, to)

	m.listenersMu.RLock()
	listeners := make([]StateChangeListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.listenersMu.RUnlock()

	for _, listener := range listeners {
		runtime.SafeGo(ctx, m.logger, "circuitbreaker", "state_change_listener", func() {
			listener.OnStateChange(id, from, to)
		})
	}
}

func (m *manager) recordTransition(id backend.Identity, from State, to State) {
	if m.metricsFactory == nil {
		return
	}

	counter, err := m.metricsFactory.Counter(stateTransitionMetric)
	if err != nil {
		return
	}

	_ = counter.WithLabels(map[string]string{
		"backend":    constant.SanitizeMetricLabel(id.String()),
		"from_state": string(from),
		"to_state":   string(to),
	}).AddOne(context.Background())
}

func (m *manager) recordExecution(id backend.Identity, result string) {
	if m.metricsFactory == nil {
		return
	}

	counter, err := m.metricsFactory.Counter(executionMetric)
	if err != nil {
		return
	}

	_ = counter.WithLabels(map[string]string{
		"backend": constant.SanitizeMetricLabel(id.String()),
		"result":  result,
	}).AddOne(context.Background())
}

func convertState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}

package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/circuitbreaker"
	constant "github.com/LerianStudio/lib-searchkit/searchkit/constants"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/LerianStudio/lib-searchkit/searchkit/opentelemetry/metrics"
	"github.com/LerianStudio/lib-searchkit/searchkit/runtime"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is how long a probe result is served from cache.
	DefaultTTL = 15 * time.Second
	// DefaultProbeTimeout bounds a single probe.
	DefaultProbeTimeout = 2 * time.Second
	// DefaultInterval is the background refresh period.
	DefaultInterval = 30 * time.Second

	immediateQueueSize = 10
)

var (
	// ErrNilLogger reports a missing logger.
	ErrNilLogger = errors.New("health: logger is nil")
	// ErrNilProbe reports a Register call without a probe.
	ErrNilProbe = errors.New("health: probe is nil")
	// ErrUnknownBackend is recorded in the status of a backend that has no probe.
	ErrUnknownBackend = errors.New("health: backend not registered")
	// ErrProbeTimeout is recorded when a probe outlives the probe timeout.
	ErrProbeTimeout = errors.New("health: probe timed out")
	// ErrProbePanic is recorded when a probe panics.
	ErrProbePanic = errors.New("health: probe panicked")

	probeMetric = metrics.Metric{
		Name:        constant.MetricHealthProbesTotal,
		Unit:        "1",
		Description: "Total number of backend health probes, by result",
	}
)

// ProbeFunc checks one backend. It should honour ctx, but the Monitor bounds
// it with the probe timeout either way.
type ProbeFunc func(ctx context.Context) backend.HealthStatus

// FromBackend probes b through its CheckHealth method.
func FromBackend(b backend.Backend) ProbeFunc {
	return b.CheckHealth
}

type entry struct {
	status    backend.HealthStatus
	fetchedAt time.Time
}

// Monitor caches the health of every registered backend.
type Monitor struct {
	logger         log.Logger
	metricsFactory *metrics.MetricsFactory
	ttl            time.Duration
	probeTimeout   time.Duration
	interval       time.Duration
	now            func() time.Time

	mu      sync.RWMutex
	probes  map[backend.Identity]ProbeFunc
	entries map[backend.Identity]entry

	group singleflight.Group

	immediate chan backend.Identity
	stopCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithTTL sets how long probe results are cached. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(m *Monitor) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithProbeTimeout bounds every probe. Non-positive values are ignored.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(m *Monitor) {
		if timeout > 0 {
			m.probeTimeout = timeout
		}
	}
}

// WithInterval sets the background refresh period used by Start.
func WithInterval(interval time.Duration) Option {
	return func(m *Monitor) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithMetricsFactory counts probes by result.
func WithMetricsFactory(factory *metrics.MetricsFactory) Option {
	return func(m *Monitor) {
		m.metricsFactory = factory
	}
}

// WithClock replaces time.Now when judging cache freshness.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMonitor creates a Monitor with no registered backends.
func NewMonitor(logger log.Logger, opts ...Option) (*Monitor, error) {
	if logger == nil {
		return nil, ErrNilLogger
	}

	m := &Monitor{
		logger:       logger,
		ttl:          DefaultTTL,
		probeTimeout: DefaultProbeTimeout,
		interval:     DefaultInterval,
		now:          time.Now,
		probes:       make(map[backend.Identity]ProbeFunc),
		entries:      make(map[backend.Identity]entry),
		immediate:    make(chan backend.Identity, immediateQueueSize),
		stopCh:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Register installs the probe for id, replacing any previous one and its cached status.
func (m *Monitor) Register(id backend.Identity, probe ProbeFunc) error {
	if probe == nil {
		return fmt.Errorf("%w: %s", ErrNilProbe, id)
	}

	m.mu.Lock()
	m.probes[id] = probe
	delete(m.entries, id)
	m.mu.Unlock()

	m.logger.Log(context.Background(), log.LevelInfo, "health probe registered", log.String("backend", id.String()))

	return nil
}

// Get returns the cached status of id, probing when the cached value is
// missing or older than the TTL. Concurrent callers share one probe.
func (m *Monitor) Get(ctx context.Context, id backend.Identity) backend.HealthStatus {
	if status, ok := m.fresh(id); ok {
		return status
	}

	return m.refresh(ctx, id, false)
}

// ForceRefresh probes id regardless of the cache and stores the result.
func (m *Monitor) ForceRefresh(ctx context.Context, id backend.Identity) backend.HealthStatus {
	return m.refresh(ctx, id, true)
}

// Invalidate drops the cached status of id so the next Get probes again.
func (m *Monitor) Invalidate(id backend.Identity) {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
}

func (m *Monitor) fresh(id backend.Identity) (backend.HealthStatus, bool) {
	m.mu.RLock()
	cached, ok := m.entries[id]
	m.mu.RUnlock()

	if ok && m.now().Sub(cached.fetchedAt) < m.ttl {
		return cached.status, true
	}

	return backend.HealthStatus{}, false
}

func (m *Monitor) refresh(ctx context.Context, id backend.Identity, force bool) backend.HealthStatus {
	m.mu.RLock()
	probe, ok := m.probes[id]
	m.mu.RUnlock()

	if !ok {
		return backend.UnhealthyStatus(0, fmt.Errorf("%w: %s", ErrUnknownBackend, id))
	}

	if ctx == nil {
		ctx = context.Background()
	}

	// The shared probe must not die with whichever caller happened to start it.
	probeCtx := context.WithoutCancel(ctx)

	key := id.String()
	if force {
		key += "/force"
	}

	v, _, _ := m.group.Do(key, func() (any, error) {
		// A caller that saw the stale entry may arrive after another flight
		// already stored a fresh one.
		if !force {
			if status, ok := m.fresh(id); ok {
				return status, nil
			}
		}

		status := m.runProbe(probeCtx, id, probe)

		m.mu.Lock()
		m.entries[id] = entry{status: status, fetchedAt: m.now()}
		m.mu.Unlock()

		return status, nil
	})

	status, _ := v.(backend.HealthStatus)

	return status
}

type probeResult struct {
	status backend.HealthStatus
	err    error
}

func (m *Monitor) runProbe(ctx context.Context, id backend.Identity, probe ProbeFunc) backend.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan probeResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				runtime.HandlePanicValue(ctx, m.logger, r, "health", "probe_"+id.String())
				done <- probeResult{err: fmt.Errorf("%w: %v", ErrProbePanic, r)}
			}
		}()

		done <- probeResult{status: probe(ctx)}
	}()

	var status backend.HealthStatus

	select {
	case res := <-done:
		if res.err != nil {
			status = backend.UnhealthyStatus(time.Since(start), res.err)
		} else {
			status = res.status
		}
	case <-ctx.Done():
		status = backend.UnhealthyStatus(time.Since(start), fmt.Errorf("%w after %s", ErrProbeTimeout, m.probeTimeout))
	}

	if status.CheckedAt.IsZero() {
		status.CheckedAt = time.Now()
	}

	m.observe(ctx, id, status)

	return status
}

func (m *Monitor) observe(ctx context.Context, id backend.Identity, status backend.HealthStatus) {
	result := "healthy"

	if !status.Healthy() {
		result = "unhealthy"

		m.logger.Log(ctx, log.LevelWarn, "backend health probe failed",
			log.String("backend", id.String()),
			log.Bool("connected", status.Connected),
			log.Bool("search_capable", status.SearchCapable),
			log.Any("errors", status.Errors))
	}

	if m.metricsFactory == nil {
		return
	}

	counter, err := m.metricsFactory.Counter(probeMetric)
	if err != nil {
		return
	}

	_ = counter.WithLabels(map[string]string{
		"backend": constant.SanitizeMetricLabel(id.String()),
		"result":  result,
	}).AddOne(context.Background())
}

// OnStateChange implements circuitbreaker.StateChangeListener. When a breaker
// opens the cached status is dropped and an immediate refresh is queued.
func (m *Monitor) OnStateChange(id backend.Identity, _ circuitbreaker.State, to circuitbreaker.State) {
	if to != circuitbreaker.StateOpen {
		return
	}

	m.Invalidate(id)

	select {
	case m.immediate <- id:
	default:
		m.logger.Log(context.Background(), log.LevelWarn, "immediate health refresh queue full, waiting for next interval",
			log.String("backend", id.String()))
	}
}

// Start launches the background refresh loop. Calling it more than once is a no-op.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)

		go m.loop()

		m.logger.Log(context.Background(), log.LevelInfo, "health monitor started", log.Duration("interval", m.interval))
	})
}

// Stop ends the background loop and waits for it. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
		m.logger.Log(context.Background(), log.LevelInfo, "health monitor stopped")
	})
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	defer runtime.RecoverAndLog(context.Background(), m.logger, "health", "monitor_loop")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.refreshAll()
		case id := <-m.immediate:
			m.logger.Log(context.Background(), log.LevelDebug, "immediate health refresh", log.String("backend", id.String()))
			m.ForceRefresh(context.Background(), id)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) refreshAll() {
	m.mu.RLock()
	ids := make([]backend.Identity, 0, len(m.probes))

	for id := range m.probes {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.ForceRefresh(context.Background(), id)
	}
}

var _ circuitbreaker.StateChangeListener = (*Monitor)(nil)

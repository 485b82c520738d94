package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"sync/atomic"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/circuitbreaker"
	"github.com/LerianStudio/lib-searchkit/searchkit/health"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/LerianStudio/lib-searchkit/searchkit/opentelemetry/metrics"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNilBackend reports a missing cache or primary backend.
	ErrNilBackend = errors.New("orchestrator: backend is nil")
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("orchestrator: closed")
)

// Orchestrator routes searches between a cache and a primary store.
type Orchestrator struct {
	cache   backend.CacheStore
	primary backend.Backend
	cfg     Config

	breakers circuitbreaker.Manager
	monitor  *health.Monitor

	logger         log.Logger
	metricsFactory *metrics.MetricsFactory
	tracer         trace.Tracer

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New builds an Orchestrator over cache and primary. Unless injected, it
// creates its own breaker manager and health monitor and wires the monitor to
// breaker transitions.
func New(cache backend.CacheStore, primary backend.Backend, cfg Config, opts ...Option) (*Orchestrator, error) {
	if cache == nil {
		return nil, fmt.Errorf("%w: cache", ErrNilBackend)
	}

	if primary == nil {
		return nil, fmt.Errorf("%w: primary", ErrNilBackend)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cache:   cache,
		primary: primary,
		cfg:     cfg,
		logger:  &log.NopLogger{},
	}

	for _, opt := range opts {
		opt(o)
	}

	if err := o.wireBreakers(); err != nil {
		return nil, err
	}

	if err := o.wireHealth(); err != nil {
		return nil, err
	}

	return o, nil
}

func (o *Orchestrator) wireBreakers() error {
	if o.breakers == nil {
		var breakerOpts []circuitbreaker.Option
		if o.metricsFactory != nil {
			breakerOpts = append(breakerOpts, circuitbreaker.WithMetricsFactory(o.metricsFactory))
		}

		manager, err := circuitbreaker.NewManager(o.logger, breakerOpts...)
		if err != nil {
			return fmt.Errorf("create breaker manager: %w", err)
		}

		o.breakers = manager
	}

	for _, id := range []backend.Identity{backend.Cache, backend.Primary} {
		if err := o.breakers.Register(id, o.cfg.Breaker); err != nil {
			return fmt.Errorf("register %s breaker: %w", id, err)
		}
	}

	return nil
}

func (o *Orchestrator) wireHealth() error {
	if o.monitor == nil {
		monitorOpts := []health.Option{health.WithTTL(o.cfg.HealthCacheTTL)}

		if o.cfg.ProbeTimeout > 0 {
			monitorOpts = append(monitorOpts, health.WithProbeTimeout(o.cfg.ProbeTimeout))
		}

		if o.cfg.HealthCheckInterval > 0 {
			monitorOpts = append(monitorOpts, health.WithInterval(o.cfg.HealthCheckInterval))
		}

		if o.metricsFactory != nil {
			monitorOpts = append(monitorOpts, health.WithMetricsFactory(o.metricsFactory))
		}

		monitor, err := health.NewMonitor(o.logger, monitorOpts...)
		if err != nil {
			return fmt.Errorf("create health monitor: %w", err)
		}

		o.monitor = monitor
	}

	if err := o.monitor.Register(backend.Cache, health.FromBackend(o.cache)); err != nil {
		return err
	}

	if err := o.monitor.Register(backend.Primary, health.FromBackend(o.primary)); err != nil {
		return err
	}

	o.breakers.RegisterStateChangeListener(o.monitor)

	if o.cfg.HealthCheckInterval > 0 {
		o.monitor.Start()
	}

	return nil
}

// Connect connects both backends. A primary failure is returned; a cache
// failure only degrades routing and is logged.
func (o *Orchestrator) Connect(ctx context.Context) error {
	if err := o.cache.Connect(ctx); err != nil {
		o.logger.Log(ctx, log.LevelWarn, "cache connect failed, searches will use the primary store",
			log.Err(err))
	}

	if err := o.primary.Connect(ctx); err != nil {
		return fmt.Errorf("connect primary: %w", err)
	}

	o.monitor.Invalidate(backend.Cache)
	o.monitor.Invalidate(backend.Primary)

	return nil
}

// BackendReport pairs the health and breaker view of one backend.
type BackendReport struct {
	Health  backend.HealthStatus    `json:"health"`
	Breaker circuitbreaker.Snapshot `json:"breaker"`
}

// HealthReport is returned by Health.
type HealthReport struct {
	Cache   BackendReport `json:"cache"`
	Primary BackendReport `json:"primary"`
}

// Healthy reports whether at least one backend can serve searches.
func (r HealthReport) Healthy() bool {
	serving := func(b BackendReport) bool {
		return b.Health.Healthy() && b.Breaker.State != circuitbreaker.StateOpen
	}

	return serving(r.Primary) || serving(r.Cache)
}

// Health returns the latest health status and breaker snapshot of both backends.
func (o *Orchestrator) Health(ctx context.Context) HealthReport {
	return HealthReport{
		Cache: BackendReport{
			Health:  o.monitor.Get(ctx, backend.Cache),
			Breaker: o.breakers.Snapshot(backend.Cache),
		},
		Primary: BackendReport{
			Health:  o.monitor.Get(ctx, backend.Primary),
			Breaker: o.breakers.Snapshot(backend.Primary),
		},
	}
}

// Invalidate removes cached result sets matching the glob pattern and returns
// how many were removed. An empty pattern removes every searchkit result.
func (o *Orchestrator) Invalidate(ctx context.Context, pattern string) (int, error) {
	if o.closed.Load() {
		return 0, ErrClosed
	}

	if pattern == "" {
		pattern = backend.KeyPrefix + "*"
	}

	// A malformed pattern is the caller's fault and must not reach the breaker.
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, fmt.Errorf("%w: pattern %q: %w", backend.ErrInvalidQuery, pattern, err)
	}

	permit, err := o.breakers.Acquire(backend.Cache)
	if err != nil {
		return 0, err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	removed, err := o.cache.Invalidate(callCtx, pattern)
	if err != nil {
		o.settle(ctx, permit, err)
		return 0, backend.Classify(backend.Cache, err)
	}

	permit.Success()

	o.logger.Log(ctx, log.LevelInfo, "cache invalidated",
		log.String("pattern", pattern),
		log.Int("removed", removed))

	return removed, nil
}

// Close stops the health monitor and disconnects both backends. Later calls
// return the result of the first.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.closeOnce.Do(func() {
		o.closed.Store(true)
		o.monitor.Stop()

		o.closeErr = errors.Join(
			wrapIfErr("disconnect cache", o.cache.Disconnect(ctx)),
			wrapIfErr("disconnect primary", o.primary.Disconnect(ctx)),
		)
	})

	return o.closeErr
}

// Breakers exposes the breaker manager, mostly for diagnostics.
func (o *Orchestrator) Breakers() circuitbreaker.Manager {
	return o.breakers
}

func wrapIfErr(msg string, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", msg, err)
}

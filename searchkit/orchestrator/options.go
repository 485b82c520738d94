package orchestrator

import (
	"github.com/LerianStudio/lib-searchkit/searchkit/circuitbreaker"
	"github.com/LerianStudio/lib-searchkit/searchkit/health"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/LerianStudio/lib-searchkit/searchkit/opentelemetry/metrics"
	"go.opentelemetry.io/otel/trace"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger log.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsFactory records search, breaker and health metrics through factory.
func WithMetricsFactory(factory *metrics.MetricsFactory) Option {
	return func(o *Orchestrator) {
		o.metricsFactory = factory
	}
}

// WithTracer sets the tracer used for search spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

// WithBreakerManager injects a breaker manager instead of creating one.
// Both backends are registered on it with the configured thresholds.
func WithBreakerManager(manager circuitbreaker.Manager) Option {
	return func(o *Orchestrator) {
		o.breakers = manager
	}
}

// WithHealthMonitor injects a health monitor instead of creating one. Probes
// for both backends are registered on it.
func WithHealthMonitor(monitor *health.Monitor) Option {
	return func(o *Orchestrator) {
		o.monitor = monitor
	}
}

// Package health tracks backend health with TTL-cached, single-flight probes.
//
// A Monitor never returns an error: failed, slow or panicking probes are
// reported as a disconnected backend.HealthStatus. The Monitor also listens to
// circuit breaker transitions and refreshes a backend as soon as its breaker opens.
package health

// Package metrics provides a lazily-initialized, concurrency-safe factory of
// OpenTelemetry instruments with fluent builders for labels.
package metrics

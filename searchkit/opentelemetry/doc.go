// Package opentelemetry holds the tracing helpers shared by searchkit packages.
//
// Metric instruments live in the metrics subpackage.
package opentelemetry

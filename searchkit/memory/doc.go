// Package memory provides in-process implementations of backend.Backend and
// backend.CacheStore. They are useful for local development and for tests, and
// can inject latency, errors and unhealthy probes on demand.
package memory

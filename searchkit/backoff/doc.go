// Package backoff provides exponential backoff with full jitter for
// connection retries performed by backend adapters.
package backoff

// Package errgroup runs goroutines that share a cancellation context and
// converts panics into errors instead of crashing the process.
package errgroup

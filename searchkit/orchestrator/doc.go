// Package orchestrator is the searchkit facade. An Orchestrator owns one
// circuit breaker and one health entry per backend, picks a strategy for each
// call, runs it against the cache and the primary store, and returns the
// result together with a PerformanceRecord.
//
// An Orchestrator is safe for concurrent use. All reliability state lives on
// the instance and is released by Close.
package orchestrator

// Package circuitbreaker keeps one failure-isolation state machine per backend.
//
// Each backend moves between Closed, Open and HalfOpen: FailureThreshold
// consecutive failures open the circuit, the first check after RecoveryTimeout
// moves it to HalfOpen, and a single trial request decides whether it closes
// again or reopens with a fresh recovery timer.
//
// Callers gate a backend call with Manager.Acquire and report the outcome on
// the returned Permit. Every transition is evaluated atomically per backend.
package circuitbreaker

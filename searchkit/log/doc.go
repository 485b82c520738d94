// Package log defines the logging interface and typed fields used across searchkit.
//
// Adapters (such as the zap package) implement Logger so the orchestrator,
// breakers and backend adapters keep logging calls consistent across backends.
package log

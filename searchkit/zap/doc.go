// Package zap adapts go.uber.org/zap to the searchkit log.Logger interface.
//
// Loggers built with New tee every entry into the OpenTelemetry log bridge so
// search logs correlate with the spans emitted by the orchestrator.
package zap

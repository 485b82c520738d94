// Package runtime centralizes panic recovery for goroutines started by searchkit.
//
// Recovered panics are logged with their stack, recorded on the active span,
// counted through the panic metric and forwarded to an optional ErrorReporter.
package runtime

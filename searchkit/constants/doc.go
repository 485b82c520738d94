// Package constant holds shared telemetry names and label helpers.
package constant

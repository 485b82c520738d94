// Package config loads searchkit configuration from YAML with environment
// variable overrides and validates it.
//
// Loading order is: built-in defaults, then the YAML file, then any variable
// named by an `env` struct tag. Backend kinds form a closed set; an unknown
// kind is rejected at load time with ErrUnknownKind.
package config

// Package server runs the searchkit HTTP app and shuts it down gracefully on
// SIGINT/SIGTERM, closing registered resources in order afterwards.
package server

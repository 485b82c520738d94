// Package backend defines the capability interfaces every search backend
// implements, the search data model shared by the orchestrator and the
// adapters, and the typed error taxonomy.
//
// A Backend is either the primary data store or the accelerating cache. The
// orchestrator only talks to backends through these interfaces; connection
// pools and drivers stay inside the adapters.
package backend

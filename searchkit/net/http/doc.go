// Package http exposes an Orchestrator over HTTP with Fiber.
//
// Routes:
//
//	GET    /v1/search?q=&limit=&offset=&sortBy=&sortOrder=&noCache=&filter.<name>=
//	GET    /v1/health
//	DELETE /v1/cache?pattern=
//	PUT    /v1/documents   (only when the primary store accepts documents)
//
// Errors are rendered as ErrorResponse. Invalid queries map to 400, an
// unavailable backend or open circuit to 503 and a timeout to 504.
package http

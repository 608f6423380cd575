// Package httpserver serves the ingestion gateway over HTTP.
//
// Routes:
//
//   - the gateway WebSocket endpoint, mounted at server.http.path
//   - GET /health: build information
//   - GET /metrics: Prometheus exposition
//
// Gateway requests pass RequestID, Recover and a per-IP RateLimit that
// answers 429 before the WebSocket upgrade. No middleware wraps the
// ResponseWriter, so upgrades can hijack the connection.
package httpserver

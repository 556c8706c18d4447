// Package server is the inbound HTTP side of the gateway.
//
// One http.Server accepts HTTP/1.1 and cleartext HTTP/2 (h2c). Requests
// pass a net/http middleware chain (server/middleware) and are then split
// by path: the admin prefix (default /_gateway) is served by a Gin engine
// with the endpoints of server/endpoint, every other path goes to the
// handler given to Mount, normally the gateway dispatcher.
//
// # Middleware
//
//   - Recovery: panic recovery with structured logging
//   - RequestID: X-Request-Id generation and propagation
//   - CORS: cross-origin headers and preflight answers, when enabled
//   - ClientRateLimit: per-client sliding window, when enabled
//   - RequestLogger: logs admin requests; proxied requests are logged by the dispatcher
//
// # Admin endpoints
//
//   - /health: component health aggregation
//   - /live, /ready: liveness and readiness checks
//   - /info: version and build information
//   - /routes: route table with circuit breaker states
//   - /services: cached service instances
package server

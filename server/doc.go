// Package server provides the HTTP server shared by the registry, the
// gateway and the demo services.
//
// Requests pass through recovery, request id, Prometheus metrics, request
// logging, optional per-client rate limiting and a body size limit before
// reaching the ServeMux. The mux hands "/" to a gin engine; the gateway
// mounts its router as the engine's NoRoute handler so health endpoints keep
// working next to arbitrary proxied paths.
//
// # Endpoints
//
// RegisterDefaultEndpoints adds:
//
//   - /health: component health aggregation
//   - /alive: liveness check
//   - /ready: readiness check
//   - /info: version and uptime
//   - /metrics: Prometheus exposition
package server

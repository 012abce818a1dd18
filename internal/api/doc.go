// Package api hosts the HTTP server, middleware, and REST handlers for
// webhook intake and operator access. Notable routes:
//   - POST /api/webhooks/cruiseline-pricing-updated for pricing events.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/jobs/{job_id}/status and /v1/lines/{line_id}/status for
//     job observability.
//   - POST /v1/sync/{line_id} to trigger a manual full sync.
package api

// Package api hosts the HTTP server, middleware, and REST handlers for the
// capability registry. Notable routes:
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/v1/ingest to queue a crawl, GET /api/v1/jobs/{job_id} to poll it.
//   - POST /api/v1/ingest/push for snippet page pushes, keyed by tenant.
//   - GET /registry/{domain} for the published capability registry.
package api

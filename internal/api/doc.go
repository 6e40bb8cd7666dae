// Package api hosts the HTTP server, middleware, and REST handlers for the warmup
// service. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/pages to scan a rendered page body.
//   - POST /v1/warmups to fetch pages by URL and scan them.
//   - GET /v1/resources?url= and GET /v1/batches/{batch_id} for inspection.
package api

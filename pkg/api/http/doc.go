// Package http provides the worker's HTTP API.
//
// The server exposes:
//   - /health, reflecting the supervisor state
//   - /metrics for Prometheus
//   - /api/v1/worker for the worker status and push delivery of jobs
//   - /api/v1/tracker for read-only views of the job tracker
package http

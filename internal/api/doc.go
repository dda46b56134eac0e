// Package api hosts the HTTP surface of `datapull serve`. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/events streams the event feed as server-sent events.
//   - GET /v1/status, POST /v1/crawl and POST /v1/crawl/stop control crawls.
//   - GET /v1/operations lists recent upload operations.
package api

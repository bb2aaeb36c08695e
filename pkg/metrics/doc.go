/*
Package metrics exposes the Prometheus instrumentation.

Metrics are package-level collectors registered at init and served from the
internal listener at /metrics, off the authenticated /v1 surface. The HTTP
middleware records per-route counters and latency histograms; the cache,
rate limiter, and notification layers increment their own counters inline.
*/
package metrics

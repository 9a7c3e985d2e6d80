/*
Package metrics exposes Crucible's job-execution metrics over Prometheus.

Counters and gauges track submissions, terminal outcomes, active jobs, and
sandbox kills; Collector adapts the Execution Supervisor's lifecycle
notifications onto them. Handler returns the scrape endpoint mounted at
/metrics by the HTTP adapter. HealthChecker (health.go) is a small,
independent component-status tracker; the server composition root
registers store, runtime, and api as each comes up during startup, and
the HTTP adapter exposes the result at /ready and /live. GET /health is
served by the adapter's own static handler, not by HealthChecker.
*/
package metrics

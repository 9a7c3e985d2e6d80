package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crucible_jobs_submitted_total",
			Help: "Total number of jobs submitted",
		},
	)

	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crucible_jobs_completed_total",
			Help: "Total number of jobs completed, by terminal outcome",
		},
		[]string{"outcome"},
	)

	ActiveJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crucible_active_jobs",
			Help: "Number of jobs currently executing",
		},
	)

	ExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crucible_execution_duration_seconds",
			Help:    "Wall-clock duration of a job's sandbox execution",
			Buckets: prometheus.DefBuckets,
		},
	)

	SandboxKillsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crucible_sandbox_kills_total",
			Help: "Total number of sandboxes force-killed for exceeding the deadline",
		},
	)

	SweeperReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crucible_sweeper_reclaimed_total",
			Help: "Total number of orphaned running jobs re-finalized as crashed by the startup sweeper",
		},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crucible_api_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crucible_api_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		JobsSubmittedTotal,
		JobsCompletedTotal,
		ActiveJobs,
		ExecutionDuration,
		SandboxKillsTotal,
		SweeperReclaimedTotal,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

package metrics

import "github.com/cuemby/crucible/pkg/types"

// Collector adapts the Execution Supervisor's lifecycle notifications onto
// the package's Prometheus metrics. It implements engine.Observer without
// importing pkg/engine, keeping the dependency pointed the usual direction
// (engine depends on an Observer interface; metrics satisfies it).
type Collector struct{}

// NewCollector creates a metrics Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// JobStarted records a new job entering execution.
func (c *Collector) JobStarted() {
	ActiveJobs.Inc()
}

// JobFinished records a job's terminal outcome and execution time.
func (c *Collector) JobFinished(outcome types.Classification, executionMS int64) {
	ActiveJobs.Dec()
	JobsCompletedTotal.WithLabelValues(string(outcome)).Inc()
	ExecutionDuration.Observe(float64(executionMS) / 1000)
}

// SandboxKilled records a sandbox being force-killed for exceeding its deadline.
func (c *Collector) SandboxKilled() {
	SandboxKillsTotal.Inc()
}

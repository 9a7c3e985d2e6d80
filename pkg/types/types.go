package types

import "time"

// JobStatus represents the lifecycle stage of a Job. Status is monotonic:
// StatusNotStarted -> StatusRunning -> StatusDone. No transition is ever
// undone.
type JobStatus string

const (
	StatusNotStarted JobStatus = "not_started"
	StatusRunning    JobStatus = "running"
	StatusDone       JobStatus = "done"
)

// InputFile is a single companion file submitted alongside a Job's source.
type InputFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Job is the central entity: one submission of source code plus input
// files, tracked end-to-end from submission through sandboxed execution.
//
// Once Status is StatusDone the record is immutable; every terminal field
// is written exactly once by Store.Finalize.
type Job struct {
	ID     string    `json:"id"`
	Owner  string    `json:"owner"`
	Status JobStatus `json:"status"`

	Source     string      `json:"source"`
	Args       []string    `json:"args"`
	InputFiles []InputFile `json:"input_files"`

	SandboxID string `json:"sandbox_id,omitempty"`

	Stdout []byte `json:"stdout,omitempty"`
	Stderr []byte `json:"stderr,omitempty"`

	Crashed  bool `json:"crashed"`
	TimedOut bool `json:"timed_out"`

	PeakMemoryMB float64 `json:"peak_memory_mb"`
	PeakCPUPct   float64 `json:"peak_cpu_pct"`
	ExecutionMS  int64   `json:"execution_ms"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Seed is the caller-supplied portion of a Job, as accepted by Store.Create.
type Seed struct {
	Owner      string
	Source     string
	Args       []string
	InputFiles []InputFile
}

// Outcome is the atomic set of terminal fields written by Store.Finalize.
type Outcome struct {
	Stdout       []byte
	Stderr       []byte
	Crashed      bool
	TimedOut     bool
	PeakMemoryMB float64
	PeakCPUPct   float64
	ExecutionMS  int64
	CompletedAt  time.Time
}

// Summary is the reduced view returned by Store.List.
type Summary struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ToSummary reduces a Job to its list view.
func (j *Job) ToSummary() Summary {
	return Summary{ID: j.ID, Owner: j.Owner, Status: j.Status, CreatedAt: j.CreatedAt}
}

// SandboxSpec enumerates everything the Sandbox Driver needs to create a
// sandbox container: the image, the compile-and-run command, resource
// limits, and the labels used for project-wide sweeping.
type SandboxSpec struct {
	Image       string
	Command     []string
	WorkingDir  string
	MemoryLimit int64 // bytes
	CPUWeight   int64 // relative share, 1024 = 1 core
	Labels      map[string]string
	AutoRemove  bool // always false; the Supervisor removes explicitly
}

// SandboxHandle is the opaque runtime handle returned by Driver.Create.
type SandboxHandle string

// StreamTag identifies which buffer a demultiplexed frame belongs to.
type StreamTag byte

const (
	StreamUnknown StreamTag = 0
	StreamStdout  StreamTag = 1
	StreamStderr  StreamTag = 2
)

// StatsFrame is one sample from the Sandbox Driver's live statistics
// stream, carrying the raw cgroup counters the Resource Sampler needs to
// compute CPU percentage and peak memory.
type StatsFrame struct {
	CPUTotalNS   uint64
	SystemCPUNS  uint64
	OnlineCPUs   uint64
	MemoryUsageB uint64
}

// Classification is the Supervisor's outcome verdict, computed once a job
// has finished running or been killed for exceeding its deadline.
type Classification string

const (
	ClassificationSuccess Classification = "success"
	ClassificationCrash   Classification = "crash"
	ClassificationTimeout Classification = "timeout"
)

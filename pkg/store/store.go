// Package store implements the Job Store: durable, single-process
// persistence of Job records and their terminal state.
package store

import (
	"errors"

	"github.com/cuemby/crucible/pkg/types"
)

// Sentinel errors returned by Store methods. Callers should use
// errors.Is to classify them; every wrapping error satisfies this via
// fmt.Errorf("%w", ...).
var (
	// ErrNotFound is returned when a job id (or id+owner pair) has no
	// matching record.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a caller attempts a status
	// transition the state machine forbids: mark_running on a done job,
	// or finalize on an already-done job.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Store is the Job Store's public contract. All writes for
// a single job are linearizable from the Supervisor's viewpoint;
// concurrent Finalize attempts on the same id are serialized and exactly
// one wins.
type Store interface {
	// Create inserts a new job with status not_started and returns its id.
	Create(seed types.Seed) (string, error)

	// MarkRunning transitions not_started -> running and sets StartedAt.
	// It is idempotent against re-entry: a second call while the job is
	// already running is a no-op success. It fails with
	// ErrInvalidTransition if the job is already done.
	MarkRunning(id string) error

	// AttachSandbox records the sandbox handle created for this job.
	AttachSandbox(id string, sandboxID string) error

	// Finalize atomically writes every terminal field and status done.
	// A second Finalize on the same id fails with ErrInvalidTransition.
	Finalize(id string, outcome types.Outcome) error

	// Get fetches a job by id. If owner is non-empty, the job is also
	// required to belong to that owner; otherwise ErrNotFound is
	// returned even if the job exists under a different owner. Pass an
	// empty owner for unscoped, trusted internal lookups (the engine).
	Get(id string, owner string) (*types.Job, error)

	// List returns job summaries for owner, newest-first by CreatedAt.
	List(owner string, limit, offset int) ([]types.Summary, error)

	// Close releases the underlying database handle.
	Close() error
}

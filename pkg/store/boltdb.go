package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/cuemby/crucible/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketJobs       = []byte("jobs")
	bucketOwnerIndex = []byte("jobs_by_owner")
)

// BoltStore implements Store using BoltDB: one bucket per entity,
// JSON-encoded values, plain Put/Get/ForEach.
type BoltStore struct {
	db *bolt.DB
}

// OpenDB opens (creating if necessary) the shared BoltDB file backing both
// the Job Store and the API key store (pkg/security), so the two share a
// single database handle across all of their entity buckets.
func OpenDB(dbPath string) (*bolt.DB, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// NewBoltStore wraps an already-open *bolt.DB as a Job Store, creating its
// buckets if absent.
func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketJobs); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketJobs, err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketOwnerIndex); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketOwnerIndex, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Create inserts a new job with status not_started.
func (s *BoltStore) Create(seed types.Seed) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	job := &types.Job{
		ID:         id,
		Owner:      seed.Owner,
		Status:     types.StatusNotStarted,
		Source:     seed.Source,
		Args:       seed.Args,
		InputFiles: seed.InputFiles,
		CreatedAt:  now,
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := putJob(tx, job); err != nil {
			return err
		}
		return putOwnerIndex(tx, job)
	})
	if err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	return id, nil
}

// MarkRunning transitions not_started -> running.
func (s *BoltStore) MarkRunning(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, id)
		if err != nil {
			return err
		}

		switch job.Status {
		case types.StatusRunning:
			return nil // idempotent re-entry
		case types.StatusDone:
			return fmt.Errorf("job %s is done: %w", id, ErrInvalidTransition)
		}

		job.Status = types.StatusRunning
		job.StartedAt = time.Now().UTC()
		return putJob(tx, job)
	})
}

// AttachSandbox records the sandbox handle on the job.
func (s *BoltStore) AttachSandbox(id string, sandboxID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, id)
		if err != nil {
			return err
		}
		job.SandboxID = sandboxID
		return putJob(tx, job)
	})
}

// Finalize atomically writes every terminal field and status done.
func (s *BoltStore) Finalize(id string, outcome types.Outcome) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, id)
		if err != nil {
			return err
		}
		if job.Status == types.StatusDone {
			return fmt.Errorf("job %s already done: %w", id, ErrInvalidTransition)
		}

		job.Status = types.StatusDone
		job.Stdout = outcome.Stdout
		job.Stderr = outcome.Stderr
		job.Crashed = outcome.Crashed
		job.TimedOut = outcome.TimedOut
		job.PeakMemoryMB = outcome.PeakMemoryMB
		job.PeakCPUPct = outcome.PeakCPUPct
		job.ExecutionMS = outcome.ExecutionMS
		job.CompletedAt = outcome.CompletedAt
		if job.CompletedAt.IsZero() {
			job.CompletedAt = time.Now().UTC()
		}

		return putJob(tx, job)
	})
}

// Get fetches a job by id, optionally scoped to owner.
func (s *BoltStore) Get(id string, owner string) (*types.Job, error) {
	var job *types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		j, err := getJob(tx, id)
		if err != nil {
			return err
		}
		if owner != "" && j.Owner != owner {
			return ErrNotFound
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// List returns job summaries for owner, newest-first by CreatedAt.
func (s *BoltStore) List(owner string, limit, offset int) ([]types.Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	var summaries []types.Summary
	err := s.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketOwnerIndex)
		jobs := tx.Bucket(bucketJobs)

		prefix := append([]byte(owner), 0x00)
		c := idx.Cursor()

		skipped := 0
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if len(summaries) >= limit {
				break
			}
			if skipped < offset {
				skipped++
				continue
			}

			data := jobs.Get(v)
			if data == nil {
				continue
			}
			var job types.Job
			if err := json.Unmarshal(data, &job); err != nil {
				return fmt.Errorf("failed to decode job %s: %w", string(v), err)
			}
			summaries = append(summaries, job.ToSummary())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return summaries, nil
}

// CountByStatus scans every job in db and tallies them by status. It
// bypasses the owner index entirely, so it sees jobs across all owners;
// it exists for the admin CLI, which is a trusted operator tool rather
// than an owner-scoped caller.
func CountByStatus(db *bolt.DB) (map[types.JobStatus]int, error) {
	counts := make(map[types.JobStatus]int)
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return fmt.Errorf("failed to decode job %s: %w", k, err)
			}
			counts[job.Status]++
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	return counts, nil
}

func getJob(tx *bolt.Tx, id string) (*types.Job, error) {
	b := tx.Bucket(bucketJobs)
	data := b.Get([]byte(id))
	if data == nil {
		return nil, ErrNotFound
	}
	var job types.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

func putJob(tx *bolt.Tx, job *types.Job) error {
	b := tx.Bucket(bucketJobs)
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return b.Put([]byte(job.ID), data)
}

// putOwnerIndex writes the owner-scoped, newest-first index entry for a
// freshly created job. The key inverts CreatedAt so that BoltDB's
// natural ascending byte-order cursor walk yields newest-first order.
func putOwnerIndex(tx *bolt.Tx, job *types.Job) error {
	b := tx.Bucket(bucketOwnerIndex)

	inverted := uint64(math.MaxInt64) - uint64(job.CreatedAt.UnixNano())
	key := make([]byte, 0, len(job.Owner)+1+8+1+len(job.ID))
	key = append(key, []byte(job.Owner)...)
	key = append(key, 0x00)
	key = binary.BigEndian.AppendUint64(key, inverted)
	key = append(key, 0x00)
	key = append(key, []byte(job.ID)...)

	return b.Put(key, []byte(job.ID))
}

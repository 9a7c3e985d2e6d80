package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/crucible/pkg/log"
	"github.com/cuemby/crucible/pkg/metrics"
	"github.com/cuemby/crucible/pkg/store"
	"github.com/cuemby/crucible/pkg/types"
)

// Sweep implements the Startup Sweeper. It runs once, before
// the HTTP listener starts accepting submissions: every sandbox still
// carrying the project label is force-removed, and the job each of those
// sandboxes belongs to is re-finalized as crashed if it is still running,
// on the assumption that a prior process crash left both behind. Jobs left
// in running without a surviving sandbox are not visited.
func Sweep(ctx context.Context, st store.Store, sb Sandbox) error {
	logger := log.WithComponent("sweeper")

	handles, err := sb.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list orphaned sandboxes: %w", err)
	}

	if len(handles) == 0 {
		logger.Info().Msg("no orphaned sandboxes found")
		return nil
	}

	logger.Warn().Int("count", len(handles)).Msg("reclaiming orphaned sandboxes from a previous run")

	for _, handle := range handles {
		if err := sb.Remove(ctx, handle); err != nil {
			logger.Error().Err(err).Str("sandbox", string(handle)).Msg("failed to remove orphaned sandbox")
		}

		jobID := jobIDFromHandle(handle)
		if jobID == "" {
			continue
		}

		reclaimOrphanedJob(logger, st, jobID)
	}

	return nil
}

// jobIDFromHandle recovers the job id from a sandbox handle. Crucible
// creates sandboxes with the job id as the container id (pkg/runtime's
// Create), so the handle and the job id coincide.
func jobIDFromHandle(handle types.SandboxHandle) string {
	return string(handle)
}

func reclaimOrphanedJob(logger zerolog.Logger, st store.Store, jobID string) {
	job, err := st.Get(jobID, "")
	if err != nil {
		return // not a job's sandbox, or already gone
	}
	if job.Status != types.StatusRunning {
		return
	}

	outcome := types.Outcome{
		Stderr:      []byte("job was still running when the server restarted; reclaimed by the startup sweeper"),
		Crashed:     true,
		CompletedAt: time.Now().UTC(),
	}
	if err := st.Finalize(jobID, outcome); err != nil {
		logger.Error().Err(err).Str("job_id", jobID).Msg("failed to reclaim orphaned job")
		return
	}
	metrics.SweeperReclaimedTotal.Inc()
}

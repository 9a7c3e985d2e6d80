// Package sampler implements the Resource Sampler: it polls per-sandbox
// cgroup statistics on an interval and reduces them to the peak CPU and
// memory figures recorded on the finished job.
package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/crucible/pkg/log"
	"github.com/cuemby/crucible/pkg/types"
)

const bytesPerMB = 1024 * 1024

// StatsFunc samples the current resource usage of a running sandbox. The
// Supervisor builds one by binding (*runtime.ContainerdRuntime).Stats to a
// single sandbox handle.
type StatsFunc func(ctx context.Context) (types.StatsFrame, error)

// Sampler tracks the peak CPU percentage and peak memory usage observed
// across a series of StatsFrame samples.
type Sampler struct {
	mu sync.Mutex

	prev       types.StatsFrame
	havePrev   bool
	peakCPUPct float64
	peakMemMB  float64
}

// New returns an empty Sampler with zero peaks.
func New() *Sampler {
	return &Sampler{}
}

// Run polls fn every interval until ctx is canceled, folding each sample
// into the running peaks. It returns when ctx is done; callers run it in
// its own goroutine alongside the sandbox's Wait.
func (s *Sampler) Run(ctx context.Context, interval time.Duration, fn StatsFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := fn(ctx)
			if err != nil {
				// A sample failing (e.g. the sandbox just exited) is
				// expected near the end of a run; skip and keep polling
				// until the caller cancels ctx.
				log.WithComponent("sampler").Debug().Err(err).Msg("stats sample failed")
				continue
			}
			s.observe(frame)
		}
	}
}

func (s *Sampler) observe(frame types.StatsFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if memMB := float64(frame.MemoryUsageB) / bytesPerMB; memMB > s.peakMemMB {
		s.peakMemMB = memMB
	}

	if s.havePrev {
		deltaCPU := diff(frame.CPUTotalNS, s.prev.CPUTotalNS)
		deltaSys := diff(frame.SystemCPUNS, s.prev.SystemCPUNS)
		online := frame.OnlineCPUs
		if online == 0 {
			online = 1
		}

		if deltaSys > 0 {
			pct := 100 * float64(online) * float64(deltaCPU) / float64(deltaSys)
			if pct > s.peakCPUPct {
				s.peakCPUPct = pct
			}
		}
	}

	s.prev = frame
	s.havePrev = true
}

func diff(a, b uint64) uint64 {
	if a <= b {
		return 0
	}
	return a - b
}

// PeakCPUPercent returns the highest CPU percentage observed so far.
func (s *Sampler) PeakCPUPercent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peakCPUPct
}

// PeakMemoryMB returns the highest memory usage, in megabytes, observed so far.
func (s *Sampler) PeakMemoryMB() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peakMemMB
}

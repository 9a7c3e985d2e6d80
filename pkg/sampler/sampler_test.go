package sampler

import (
	"testing"

	"github.com/cuemby/crucible/pkg/types"
)

func TestObserveTracksPeakMemory(t *testing.T) {
	s := New()
	s.observe(types.StatsFrame{MemoryUsageB: 10 * bytesPerMB})
	s.observe(types.StatsFrame{MemoryUsageB: 5 * bytesPerMB})
	s.observe(types.StatsFrame{MemoryUsageB: 20 * bytesPerMB})

	if got := s.PeakMemoryMB(); got != 20 {
		t.Errorf("PeakMemoryMB() = %v, want 20", got)
	}
}

func TestObserveTracksPeakCPU(t *testing.T) {
	s := New()
	// First sample only seeds prev; no delta yet.
	s.observe(types.StatsFrame{CPUTotalNS: 0, SystemCPUNS: 0, OnlineCPUs: 2})
	// 1 CPU-second of usage out of 2 system-seconds across 2 CPUs -> 100%.
	s.observe(types.StatsFrame{CPUTotalNS: 1_000_000_000, SystemCPUNS: 2_000_000_000, OnlineCPUs: 2})

	if got := s.PeakCPUPercent(); got != 100 {
		t.Errorf("PeakCPUPercent() = %v, want 100", got)
	}
}

func TestObserveIgnoresZeroSystemDelta(t *testing.T) {
	s := New()
	s.observe(types.StatsFrame{CPUTotalNS: 100, SystemCPUNS: 100, OnlineCPUs: 1})
	s.observe(types.StatsFrame{CPUTotalNS: 200, SystemCPUNS: 100, OnlineCPUs: 1})

	if got := s.PeakCPUPercent(); got != 0 {
		t.Errorf("PeakCPUPercent() = %v, want 0 when system delta is non-positive", got)
	}
}

func TestObservePeakIsMonotonic(t *testing.T) {
	s := New()
	s.observe(types.StatsFrame{CPUTotalNS: 0, SystemCPUNS: 0, OnlineCPUs: 1})
	s.observe(types.StatsFrame{CPUTotalNS: 1_000_000_000, SystemCPUNS: 2_000_000_000, OnlineCPUs: 1})
	s.observe(types.StatsFrame{CPUTotalNS: 1_100_000_000, SystemCPUNS: 4_000_000_000, OnlineCPUs: 1})

	if got := s.PeakCPUPercent(); got != 50 {
		t.Errorf("PeakCPUPercent() = %v, want 50 (peak held from first delta)", got)
	}
}

package runtime

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// clockTicksPerSecond is the kernel's USER_HZ, which /proc/stat reports
// jiffies in. Linux has fixed this at 100 on every mainstream architecture
// for long enough that hardcoding it is standard practice; sysconf(_SC_CLK_TCK)
// is the only fully portable source and isn't worth a cgo dependency here.
const clockTicksPerSecond = 100

// readHostCPU reads aggregate host CPU time and online CPU count from
// /proc/stat. Nothing in our dependency tree exposes this; cgroup metrics
// only cover the sandbox's own usage, not the host total the CPU
// percentage formula needs as its denominator.
func readHostCPU() (systemCPUNS uint64, onlineCPUs uint64, err error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open /proc/stat: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch {
		case fields[0] == "cpu":
			var totalTicks uint64
			for _, v := range fields[1:] {
				n, convErr := strconv.ParseUint(v, 10, 64)
				if convErr != nil {
					continue
				}
				totalTicks += n
			}
			systemCPUNS = totalTicks * (1_000_000_000 / clockTicksPerSecond)
		case strings.HasPrefix(fields[0], "cpu"):
			onlineCPUs++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, fmt.Errorf("failed to read /proc/stat: %w", err)
	}
	if onlineCPUs == 0 {
		onlineCPUs = 1
	}
	return systemCPUNS, onlineCPUs, nil
}

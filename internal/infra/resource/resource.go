// Package resource samples host load for worker heartbeats.
// Platform-specific readers (procfs on Linux) are wrapped behind
// readCPUSample/readMemPct; platforms without sensors report zero,
// which downstream treats as "unknown", never as "idle".
package resource

import (
	"strconv"
	"strings"
	"sync"
)

// Usage is one point-in-time load reading, both in percent.
type Usage struct {
	CPUPct float64
	MemPct float64
}

// Sampler produces Usage readings. CPU utilization is computed from the
// delta between consecutive counter reads, so the first Sample after
// construction reports 0 CPU.
type Sampler struct {
	mu        sync.Mutex
	prevIdle  uint64
	prevTotal uint64
}

// NewSampler creates a load sampler.
func NewSampler() *Sampler {
	return &Sampler{}
}

// Sample reads current memory pressure and CPU utilization since the
// previous call. Safe for concurrent use.
func (s *Sampler) Sample() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := Usage{MemPct: readMemPct()}

	idle, total, ok := readCPUSample()
	if !ok {
		return u
	}
	if s.prevTotal > 0 && total > s.prevTotal {
		dTotal := total - s.prevTotal
		dIdle := idle - s.prevIdle
		if dIdle > dTotal {
			dIdle = dTotal
		}
		u.CPUPct = clampPct(100 * float64(dTotal-dIdle) / float64(dTotal))
	}
	s.prevIdle, s.prevTotal = idle, total
	return u
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// parseCPUStat extracts the aggregate counters from /proc/stat content.
// idle counts idle+iowait jiffies, total counts every column.
func parseCPUStat(data []byte) (idle, total uint64, ok bool) {
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		fields := strings.Fields(line)[1:]
		if len(fields) < 4 {
			return 0, 0, false
		}
		for i, f := range fields {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return 0, 0, false
			}
			total += v
			if i == 3 || i == 4 {
				idle += v
			}
		}
		return idle, total, true
	}
	return 0, 0, false
}

// parseMemInfo computes used-memory percentage from /proc/meminfo
// content. MemAvailable is preferred; MemFree covers old kernels.
func parseMemInfo(data []byte) float64 {
	var total, avail, free uint64
	var haveAvail bool
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			avail = v
			haveAvail = true
		case "MemFree:":
			free = v
		}
	}
	if total == 0 {
		return 0
	}
	if !haveAvail {
		avail = free
	}
	return clampPct(100 * float64(total-avail) / float64(total))
}

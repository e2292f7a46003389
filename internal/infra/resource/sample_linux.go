//go:build linux

package resource

import "os"

// readCPUSample reads aggregate CPU counters from procfs.
func readCPUSample() (idle, total uint64, ok bool) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0, false
	}
	return parseCPUStat(data)
}

// readMemPct reads used-memory percentage from procfs.
func readMemPct() float64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	return parseMemInfo(data)
}

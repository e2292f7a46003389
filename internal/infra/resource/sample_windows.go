//go:build windows

package resource

// readCPUSample reports no counters on Windows. Heartbeats carry zero,
// which readers treat as unknown.
func readCPUSample() (idle, total uint64, ok bool) {
	return 0, 0, false
}

// readMemPct reports unknown memory pressure on Windows.
func readMemPct() float64 {
	return 0
}

//go:build darwin

package resource

// readCPUSample reports no counters on macOS. Heartbeats carry zero,
// which readers treat as unknown.
func readCPUSample() (idle, total uint64, ok bool) {
	return 0, 0, false
}

// readMemPct reports unknown memory pressure on macOS.
func readMemPct() float64 {
	return 0
}

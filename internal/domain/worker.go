package domain

import "time"

// Worker is a remote agent process that executes subtasks. The record is
// owned by the worker itself and refreshed on every heartbeat; the
// orchestrator only reads it (plus a best-effort busy/available flip).
type Worker struct {
	ID               string       `json:"id"`
	Endpoint         string       `json:"endpoint"`
	Capabilities     []Capability `json:"capabilities"`
	Available        bool         `json:"available"`
	CurrentSubTaskID string       `json:"current_subtask_id,omitempty"`
	CPUPct           float64      `json:"cpu_pct"`
	MemPct           float64      `json:"mem_pct"`
	CompletedCount   int64        `json:"completed_count"`
	LastHeartbeatAt  time.Time    `json:"last_heartbeat_at"`
}

// LiveAt reports whether the worker's heartbeat is within the liveness
// window at the given instant. Dead workers must never be selected.
func (w *Worker) LiveAt(now time.Time, window time.Duration) bool {
	return now.Sub(w.LastHeartbeatAt) <= window
}

// HasCapability reports whether the worker advertises c.
func (w *Worker) HasCapability(c Capability) bool {
	for _, wc := range w.Capabilities {
		if wc == c {
			return true
		}
	}
	return false
}

// Intersects reports whether the worker shares at least one capability
// with the required set.
func (w *Worker) Intersects(required []Capability) bool {
	for _, c := range required {
		if w.HasCapability(c) {
			return true
		}
	}
	return false
}

// Covers reports whether the worker advertises every required capability.
func (w *Worker) Covers(required []Capability) bool {
	for _, c := range required {
		if !w.HasCapability(c) {
			return false
		}
	}
	return true
}

// SelectionPolicy decides how worker capabilities are matched against a
// subtask's required set.
type SelectionPolicy string

const (
	// PolicyIntersects accepts a worker that can handle at least one
	// required capability. This is the default.
	PolicyIntersects SelectionPolicy = "intersects"
	// PolicyCovers requires the worker to advertise every required
	// capability.
	PolicyCovers SelectionPolicy = "covers"
)

// Valid returns true if the policy is a known value.
func (p SelectionPolicy) Valid() bool {
	return p == PolicyIntersects || p == PolicyCovers
}

// Matches applies the policy to one worker.
func (p SelectionPolicy) Matches(w *Worker, required []Capability) bool {
	if p == PolicyCovers {
		return w.Covers(required)
	}
	return w.Intersects(required)
}

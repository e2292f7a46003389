package domain

import (
	"testing"
	"time"
)

func TestWorker_LiveAt(t *testing.T) {
	now := time.Now()
	window := 60 * time.Second

	tests := []struct {
		name string
		beat time.Time
		want bool
	}{
		{"fresh", now.Add(-1 * time.Second), true},
		{"at window edge", now.Add(-window), true},
		{"just past window", now.Add(-window - time.Second), false},
		{"never", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Worker{ID: "w1", LastHeartbeatAt: tt.beat}
			if got := w.LiveAt(now, window); got != tt.want {
				t.Errorf("LiveAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWorker_Intersects(t *testing.T) {
	w := Worker{Capabilities: []Capability{CapDataAnalysis, CapWebScraping}}

	if !w.Intersects([]Capability{CapWebScraping, CapCodeGeneration}) {
		t.Error("expected overlap on web_scraping")
	}
	if w.Intersects([]Capability{CapCodeGeneration}) {
		t.Error("no overlap, Intersects should be false")
	}
	if w.Intersects(nil) {
		t.Error("empty requirement never intersects")
	}
}

func TestWorker_Covers(t *testing.T) {
	w := Worker{Capabilities: []Capability{CapDataAnalysis, CapWebScraping, CapFileProcessing}}

	if !w.Covers([]Capability{CapDataAnalysis, CapFileProcessing}) {
		t.Error("worker holds both capabilities, Covers should be true")
	}
	if w.Covers([]Capability{CapDataAnalysis, CapAPIIntegration}) {
		t.Error("api_integration missing, Covers should be false")
	}
	if !w.Covers(nil) {
		t.Error("empty requirement is trivially covered")
	}
}

func TestSelectionPolicy_Matches(t *testing.T) {
	w := &Worker{Capabilities: []Capability{CapDataAnalysis}}
	required := []Capability{CapDataAnalysis, CapDatabaseOperations}

	if !PolicyIntersects.Matches(w, required) {
		t.Error("intersects policy should accept partial overlap")
	}
	if PolicyCovers.Matches(w, required) {
		t.Error("covers policy should reject partial overlap")
	}
}

func TestSelectionPolicy_Valid(t *testing.T) {
	if !PolicyIntersects.Valid() || !PolicyCovers.Valid() {
		t.Error("built-in policies must be valid")
	}
	if SelectionPolicy("superset").Valid() {
		t.Error("unknown policy must be invalid")
	}
}

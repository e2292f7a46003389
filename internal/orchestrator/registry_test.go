package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/infra/coord"
)

func TestNewRegistry_Defaults(t *testing.T) {
	r := NewRegistry(coord.NewMemory(), 0, domain.SelectionPolicy("bogus"))
	if r.window != DefaultLivenessWindow {
		t.Errorf("window = %v, want %v", r.window, DefaultLivenessWindow)
	}
	if r.policy != domain.PolicyIntersects {
		t.Errorf("policy = %s, want intersects", r.policy)
	}
}

func TestRegistry_RegisterStampsHeartbeat(t *testing.T) {
	mem := coord.NewMemory()
	t.Cleanup(func() { mem.Close() })
	r := NewRegistry(mem, time.Minute, domain.PolicyIntersects)
	ctx := context.Background()

	w := &domain.Worker{ID: "worker_a", Endpoint: "http://h:1", Capabilities: []domain.Capability{domain.CapDataAnalysis}, Available: true}
	if err := r.Register(ctx, w); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if w.LastHeartbeatAt.IsZero() {
		t.Fatal("Register did not stamp the heartbeat")
	}

	live, err := r.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(live) != 1 || live[0].ID != "worker_a" {
		t.Fatalf("snapshot = %v, want worker_a", live)
	}
}

func TestRegistry_SnapshotDropsStaleHeartbeats(t *testing.T) {
	mem := coord.NewMemory()
	t.Cleanup(func() { mem.Close() })
	r := NewRegistry(mem, time.Minute, domain.PolicyIntersects)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }
	if err := r.Register(ctx, &domain.Worker{ID: "worker_fresh", Available: true}); err != nil {
		t.Fatalf("Register fresh: %v", err)
	}

	r.now = func() time.Time { return base.Add(-2 * time.Minute) }
	if err := r.Register(ctx, &domain.Worker{ID: "worker_stale", Available: true}); err != nil {
		t.Fatalf("Register stale: %v", err)
	}

	// Reading at base: fresh is inside the window, stale two minutes out.
	r.now = func() time.Time { return base }
	live, err := r.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(live) != 1 || live[0].ID != "worker_fresh" {
		t.Fatalf("snapshot = %v, want only worker_fresh", live)
	}
}

func TestRegistry_HeartbeatRevives(t *testing.T) {
	mem := coord.NewMemory()
	t.Cleanup(func() { mem.Close() })
	r := NewRegistry(mem, time.Minute, domain.PolicyIntersects)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := &domain.Worker{ID: "worker_a", Available: true}

	r.now = func() time.Time { return base.Add(-5 * time.Minute) }
	if err := r.Register(ctx, w); err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.now = func() time.Time { return base }
	if live, _ := r.Snapshot(ctx); len(live) != 0 {
		t.Fatalf("stale worker visible: %v", live)
	}

	if err := r.Heartbeat(ctx, w); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	live, err := r.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(live) != 1 {
		t.Fatal("heartbeat did not restore liveness")
	}
}

func TestRegistry_AvailableFiltersBusyAndCapability(t *testing.T) {
	mem := coord.NewMemory()
	t.Cleanup(func() { mem.Close() })
	r := NewRegistry(mem, time.Minute, domain.PolicyIntersects)
	ctx := context.Background()

	workers := []*domain.Worker{
		{ID: "worker_busy", Capabilities: []domain.Capability{domain.CapDataAnalysis}, Available: false},
		{ID: "worker_match", Capabilities: []domain.Capability{domain.CapDataAnalysis, domain.CapWebScraping}, Available: true},
		{ID: "worker_other", Capabilities: []domain.Capability{domain.CapFileProcessing}, Available: true},
	}
	for _, w := range workers {
		if err := r.Register(ctx, w); err != nil {
			t.Fatalf("Register %s: %v", w.ID, err)
		}
	}

	got, err := r.Available(ctx, []domain.Capability{domain.CapDataAnalysis})
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if len(got) != 1 || got[0].ID != "worker_match" {
		t.Fatalf("available = %v, want only worker_match", got)
	}

	// Empty requirement set means no capability filter.
	all, err := r.Available(ctx, nil)
	if err != nil {
		t.Fatalf("Available(nil): %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("available without filter = %d, want 2", len(all))
	}
}

func TestRegistry_CoversPolicy(t *testing.T) {
	mem := coord.NewMemory()
	t.Cleanup(func() { mem.Close() })
	r := NewRegistry(mem, time.Minute, domain.PolicyCovers)
	ctx := context.Background()

	partial := &domain.Worker{ID: "worker_partial", Capabilities: []domain.Capability{domain.CapDataAnalysis}, Available: true}
	full := &domain.Worker{ID: "worker_full", Capabilities: []domain.Capability{domain.CapDataAnalysis, domain.CapWebScraping}, Available: true}
	for _, w := range []*domain.Worker{partial, full} {
		if err := r.Register(ctx, w); err != nil {
			t.Fatalf("Register %s: %v", w.ID, err)
		}
	}

	required := []domain.Capability{domain.CapDataAnalysis, domain.CapWebScraping}
	got, err := r.Available(ctx, required)
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if len(got) != 1 || got[0].ID != "worker_full" {
		t.Fatalf("covers policy returned %v, want only worker_full", got)
	}
}

func TestRegistry_Deregister(t *testing.T) {
	mem := coord.NewMemory()
	t.Cleanup(func() { mem.Close() })
	r := NewRegistry(mem, time.Minute, domain.PolicyIntersects)
	ctx := context.Background()

	if err := r.Register(ctx, &domain.Worker{ID: "worker_a", Available: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Deregister(ctx, "worker_a"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	live, err := r.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("worker visible after deregister: %v", live)
	}
}

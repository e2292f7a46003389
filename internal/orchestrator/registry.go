package orchestrator

import (
	"context"
	"time"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/infra/metrics"
)

// DefaultLivenessWindow is how long a worker stays visible without a
// heartbeat. At a 10 s cadence, three missed heartbeats mean dead.
const DefaultLivenessWindow = 60 * time.Second

// Registry is the read-mostly view of worker presence over the
// CoordStore. Workers own their records and refresh them by heartbeat;
// the registry applies the liveness window and matching policy. The
// window doubles as the registration TTL.
type Registry struct {
	coord  domain.CoordStore
	window time.Duration
	policy domain.SelectionPolicy

	// Injectable clock
	now func() time.Time
}

// NewRegistry wires a registry view. Zero window and invalid policy
// fall back to defaults.
func NewRegistry(coord domain.CoordStore, window time.Duration, policy domain.SelectionPolicy) *Registry {
	if window <= 0 {
		window = DefaultLivenessWindow
	}
	if !policy.Valid() {
		policy = domain.PolicyIntersects
	}
	return &Registry{coord: coord, window: window, policy: policy, now: time.Now}
}

// Register adds the worker to the active set with a fresh heartbeat.
func (r *Registry) Register(ctx context.Context, w *domain.Worker) error {
	w.LastHeartbeatAt = r.now().UTC()
	return r.coord.RegisterWorker(ctx, w, r.window)
}

// Heartbeat refreshes the status record and extends its TTL.
func (r *Registry) Heartbeat(ctx context.Context, w *domain.Worker) error {
	w.LastHeartbeatAt = r.now().UTC()
	return r.coord.UpdateWorkerStatus(ctx, w, r.window)
}

// Deregister removes the worker immediately instead of waiting for the
// TTL to expire.
func (r *Registry) Deregister(ctx context.Context, workerID string) error {
	return r.coord.DeregisterWorker(ctx, workerID)
}

// Snapshot returns every worker whose heartbeat is inside the liveness
// window and refreshes the liveness gauge.
func (r *Registry) Snapshot(ctx context.Context) ([]domain.Worker, error) {
	workers, err := r.coord.ActiveWorkers(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	live := make([]domain.Worker, 0, len(workers))
	for i := range workers {
		if workers[i].LiveAt(now, r.window) {
			live = append(live, workers[i])
		}
	}
	metrics.WorkersLive.Set(float64(len(live)))
	return live, nil
}

// Available returns live, available workers. A non-empty required set
// is filtered through the configured matching policy; an empty set
// means no capability filter.
func (r *Registry) Available(ctx context.Context, required []domain.Capability) ([]domain.Worker, error) {
	workers, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Worker, 0, len(workers))
	for i := range workers {
		w := &workers[i]
		if !w.Available {
			continue
		}
		if len(required) > 0 && !r.policy.Matches(w, required) {
			continue
		}
		out = append(out, *w)
	}
	return out, nil
}

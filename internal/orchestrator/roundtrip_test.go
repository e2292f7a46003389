package orchestrator

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/worker"
)

// startWorker serves a real worker runtime over httptest and registers
// it for dispatch. Results flow back through the shared CoordStore.
func startWorker(t *testing.T, core *Core, cs domain.CoordStore, id string, caps ...domain.Capability) {
	t.Helper()
	svc, err := worker.NewService(worker.Config{
		ID:           id,
		ListenAddr:   "127.0.0.1:0", // handler is served by httptest, not Run
		Capabilities: caps,
	}, cs, worker.NewLocal(id))
	if err != nil {
		t.Fatalf("NewService %s: %v", id, err)
	}
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	registerWorker(t, core, id, srv.URL, caps...)
}

// TestRoundTrip_ChainCompletesWithLiveWorkers drives the whole pipeline
// with real components: submit through the core, dispatcher loop posting
// to worker runtimes over HTTP, workers executing locally and reporting
// through the result queue, processor loop folding the task to
// completion.
func TestRoundTrip_ChainCompletesWithLiveWorkers(t *testing.T) {
	core, mem := newTestCore(t, chainPlan)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startWorker(t, core, mem, "worker_rt_fetch", domain.CapAPIIntegration, domain.CapDataAnalysis)
	startWorker(t, core, mem, "worker_rt_report", domain.CapCodeGeneration)

	d := core.NewDispatcher(DispatcherConfig{DequeueTimeout: 50 * time.Millisecond})
	p := core.NewResultProcessor(ProcessorConfig{DequeueTimeout: 50 * time.Millisecond})
	go d.Run(ctx)
	go p.Run(ctx)

	out, err := core.Submit(ctx, "Fetch sales data and produce an analysis report", "tester", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.SubTasksCount != 3 {
		t.Fatalf("subtasks_count = %d, want 3", out.SubTasksCount)
	}

	var task *domain.Task
	var results []domain.SubTaskResult
	deadline := time.After(15 * time.Second)
	for {
		task, results, err = core.GetTask(ctx, out.TaskID)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if task.IsTerminal() {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("task stuck in %s with %d results", task.State, len(results))
		case <-time.After(25 * time.Millisecond):
		}
	}

	if task.State != domain.TaskCompleted {
		t.Fatalf("state = %s (error %q), want completed", task.State, task.Error)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for _, r := range results {
		if r.Outcome != domain.OutcomeCompleted {
			t.Errorf("subtask %s outcome = %s, want completed", r.SubTaskID, r.Outcome)
		}
		if r.WorkerID != "worker_rt_fetch" && r.WorkerID != "worker_rt_report" {
			t.Errorf("subtask %s executed by unknown worker %q", r.SubTaskID, r.WorkerID)
		}
	}

	var agg domain.AggregateResult
	if err := json.Unmarshal(task.AggregateResult, &agg); err != nil {
		t.Fatalf("aggregate result: %v", err)
	}
	if agg.Summary != "all completed" {
		t.Errorf("summary = %q", agg.Summary)
	}
	if len(agg.SubTaskResults) != 3 {
		t.Errorf("aggregate entries = %d, want 3", len(agg.SubTaskResults))
	}

	// Both workers should be available again once everything drained.
	workers, err := mem.ActiveWorkers(ctx)
	if err != nil {
		t.Fatalf("ActiveWorkers: %v", err)
	}
	for _, w := range workers {
		if !w.Available {
			t.Errorf("worker %s still busy after completion", w.ID)
		}
	}

	// Every inflight marker has been consumed.
	inflight, err := mem.InflightSubTasks(ctx, out.TaskID)
	if err != nil {
		t.Fatalf("InflightSubTasks: %v", err)
	}
	if len(inflight) != 0 {
		t.Errorf("inflight leftovers = %v, want none", inflight)
	}
}

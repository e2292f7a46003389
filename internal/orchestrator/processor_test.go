package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
)

func completedRes(taskID, subtaskID, workerID string, output string) *domain.SubTaskResult {
	return &domain.SubTaskResult{
		TaskID:               taskID,
		SubTaskID:            subtaskID,
		WorkerID:             workerID,
		Outcome:              domain.OutcomeCompleted,
		Output:               json.RawMessage(output),
		ExecutionTimeSeconds: 1.5,
	}
}

func failedRes(taskID, subtaskID, workerID, msg string) *domain.SubTaskResult {
	return &domain.SubTaskResult{
		TaskID:               taskID,
		SubTaskID:            subtaskID,
		WorkerID:             workerID,
		Outcome:              domain.OutcomeFailed,
		Error:                msg,
		ExecutionTimeSeconds: 0.2,
	}
}

func TestProcessor_AdvancesChainToCompletion(t *testing.T) {
	core, mem := newTestCore(t, chainPlan)
	ctx := context.Background()

	out, err := core.Submit(ctx, "Fetch sales data and produce an analysis report", "tester", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	proc := core.NewResultProcessor(ProcessorConfig{})

	root := drainWork(t, mem, 1)[0]
	if err := proc.process(ctx, completedRes(out.TaskID, root.SubTask.ID, "worker_1", `{"rows":42}`)); err != nil {
		t.Fatalf("process root: %v", err)
	}

	second := drainWork(t, mem, 1)[0]
	if second.SubTask.Description != "Analyze the fetched data set" {
		t.Fatalf("unexpected successor %q", second.SubTask.Description)
	}
	upstream, ok := second.UpstreamContext[root.SubTask.ID]
	if !ok {
		t.Fatalf("upstream context missing dependency output: %v", second.UpstreamContext)
	}
	if string(upstream) != `{"rows":42}` {
		t.Errorf("upstream output = %s", upstream)
	}

	if err := proc.process(ctx, completedRes(out.TaskID, second.SubTask.ID, "worker_2", `{"mean":3.5}`)); err != nil {
		t.Fatalf("process second: %v", err)
	}
	third := drainWork(t, mem, 1)[0]
	if err := proc.process(ctx, completedRes(out.TaskID, third.SubTask.ID, "worker_1", `{"report":"done"}`)); err != nil {
		t.Fatalf("process third: %v", err)
	}

	task, results, err := core.GetTask(ctx, out.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.State != domain.TaskCompleted {
		t.Fatalf("state = %s, want completed", task.State)
	}
	if len(results) != 3 {
		t.Errorf("results = %d, want 3", len(results))
	}

	var agg domain.AggregateResult
	if err := json.Unmarshal(task.AggregateResult, &agg); err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.Summary != "all completed" {
		t.Errorf("summary = %q", agg.Summary)
	}
	if len(agg.SubTaskResults) != 3 {
		t.Fatalf("aggregate entries = %d, want 3", len(agg.SubTaskResults))
	}
	// Creation order: root, analyze, report.
	if agg.SubTaskResults[0].SubTaskID != root.SubTask.ID {
		t.Errorf("first aggregate entry = %s, want %s", agg.SubTaskResults[0].SubTaskID, root.SubTask.ID)
	}
	if string(agg.SubTaskResults[2].Output) != `{"report":"done"}` {
		t.Errorf("last aggregate output = %s", agg.SubTaskResults[2].Output)
	}

	inflight, err := mem.InflightSubTasks(ctx, out.TaskID)
	if err != nil {
		t.Fatalf("InflightSubTasks: %v", err)
	}
	if len(inflight) != 0 {
		t.Errorf("inflight after completion = %v, want empty", inflight)
	}

	mirror, ok, err := mem.GetState(ctx, "task_state:"+out.TaskID)
	if err != nil || !ok {
		t.Fatalf("state mirror missing: ok=%v err=%v", ok, err)
	}
	if mirror != string(domain.TaskCompleted) {
		t.Errorf("state mirror = %q, want completed", mirror)
	}
}

func TestProcessor_FailureBlocksSuccessors(t *testing.T) {
	core, mem := newTestCore(t, chainPlan)
	ctx := context.Background()

	out, err := core.Submit(ctx, "Fetch sales data and produce an analysis report", "tester", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	proc := core.NewResultProcessor(ProcessorConfig{})

	root := drainWork(t, mem, 1)[0]
	if err := proc.process(ctx, failedRes(out.TaskID, root.SubTask.ID, "worker_1", "connection refused")); err != nil {
		t.Fatalf("process: %v", err)
	}

	task, _, err := core.GetTask(ctx, out.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.State != domain.TaskFailed {
		t.Fatalf("state = %s, want failed", task.State)
	}
	if !strings.Contains(task.Error, root.SubTask.ID) || !strings.Contains(task.Error, "connection refused") {
		t.Errorf("error = %q, want failed subtask id and message", task.Error)
	}

	// No successor may be queued behind a failed dependency.
	if _, err := mem.DequeueWork(ctx, 50*time.Millisecond); err == nil {
		t.Error("successor enqueued despite failed dependency")
	}
}

func TestProcessor_DiamondJoinWaitsForBothBranches(t *testing.T) {
	core, mem := newTestCore(t, func(context.Context, string) ([]domain.PlanStep, error) {
		return []domain.PlanStep{
			{Description: "Stage the input data for both branches", RequiredCapabilities: []string{"file_processing"}, Priority: 5},
			{Description: "Run the statistics branch computation", RequiredCapabilities: []string{"data_analysis"}, Dependencies: []int{0}, Priority: 5},
			{Description: "Run the enrichment branch computation", RequiredCapabilities: []string{"api_integration"}, Dependencies: []int{0}, Priority: 5},
			{Description: "Join both branch outputs into one report", RequiredCapabilities: []string{"code_generation"}, Dependencies: []int{1, 2}, Priority: 5},
		}, nil
	})
	ctx := context.Background()

	out, err := core.Submit(ctx, "Stage data, compute two branches, join the outputs", "tester", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	proc := core.NewResultProcessor(ProcessorConfig{})

	stage := drainWork(t, mem, 1)[0]
	if err := proc.process(ctx, completedRes(out.TaskID, stage.SubTask.ID, "worker_1", `{"staged":true}`)); err != nil {
		t.Fatalf("process stage: %v", err)
	}

	branches := drainWork(t, mem, 2)
	if err := proc.process(ctx, completedRes(out.TaskID, branches[0].SubTask.ID, "worker_2", `{"branch":"a"}`)); err != nil {
		t.Fatalf("process branch a: %v", err)
	}

	// Join must not be ready with one branch outstanding.
	if _, err := mem.DequeueWork(ctx, 50*time.Millisecond); err == nil {
		t.Fatal("join enqueued before both branches completed")
	}

	if err := proc.process(ctx, completedRes(out.TaskID, branches[1].SubTask.ID, "worker_3", `{"branch":"b"}`)); err != nil {
		t.Fatalf("process branch b: %v", err)
	}

	join := drainWork(t, mem, 1)[0]
	if len(join.UpstreamContext) != 2 {
		t.Fatalf("join upstream context = %v, want both branch outputs", join.UpstreamContext)
	}
	if string(join.UpstreamContext[branches[0].SubTask.ID]) != `{"branch":"a"}` {
		t.Errorf("branch a output = %s", join.UpstreamContext[branches[0].SubTask.ID])
	}
}

func TestProcessor_DuplicateResultKeepsFirstWrite(t *testing.T) {
	core, mem := newTestCore(t, chainPlan)
	ctx := context.Background()

	out, err := core.Submit(ctx, "Fetch sales data and produce an analysis report", "tester", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	proc := core.NewResultProcessor(ProcessorConfig{})

	root := drainWork(t, mem, 1)[0]
	first := completedRes(out.TaskID, root.SubTask.ID, "worker_1", `{"rows":42}`)
	if err := proc.process(ctx, first); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	// Redelivery, different worker and payload. The original row wins
	// and the successor is not enqueued a second time.
	dup := completedRes(out.TaskID, root.SubTask.ID, "worker_9", `{"rows":0}`)
	if err := proc.process(ctx, dup); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}

	_, results, err := core.GetTask(ctx, out.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].WorkerID != "worker_1" {
		t.Errorf("kept worker = %s, want worker_1", results[0].WorkerID)
	}

	if items := drainWork(t, mem, 1); items[0].SubTask.Description != "Analyze the fetched data set" {
		t.Fatalf("unexpected item %q", items[0].SubTask.Description)
	}
	if _, err := mem.DequeueWork(ctx, 50*time.Millisecond); err == nil {
		t.Error("duplicate delivery enqueued the successor twice")
	}
}

func TestProcessor_CancelledTaskPersistsResultWithoutAdvancing(t *testing.T) {
	core, mem := newTestCore(t, chainPlan)
	ctx := context.Background()

	out, err := core.Submit(ctx, "Fetch sales data and produce an analysis report", "tester", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	root := drainWork(t, mem, 1)[0]
	if err := core.Cancel(ctx, out.TaskID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	proc := core.NewResultProcessor(ProcessorConfig{})
	if err := proc.process(ctx, completedRes(out.TaskID, root.SubTask.ID, "worker_1", `{"rows":42}`)); err != nil {
		t.Fatalf("process: %v", err)
	}

	task, results, err := core.GetTask(ctx, out.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.State != domain.TaskCancelled {
		t.Errorf("state = %s, want cancelled", task.State)
	}
	if len(results) != 1 {
		t.Errorf("results = %d, want 1 (persisted for audit)", len(results))
	}
	if _, err := mem.DequeueWork(ctx, 50*time.Millisecond); err == nil {
		t.Error("cancelled task enqueued a successor")
	}
}

func TestProcessor_LateResultAfterFailureDoesNotResurrect(t *testing.T) {
	core, mem := newTestCore(t, func(context.Context, string) ([]domain.PlanStep, error) {
		return []domain.PlanStep{
			{Description: "Left branch with no dependencies", RequiredCapabilities: []string{"data_analysis"}, Priority: 5},
			{Description: "Right branch with no dependencies", RequiredCapabilities: []string{"web_scraping"}, Priority: 5},
		}, nil
	})
	ctx := context.Background()

	out, err := core.Submit(ctx, "Run two independent branches in parallel", "tester", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	proc := core.NewResultProcessor(ProcessorConfig{})
	items := drainWork(t, mem, 2)

	if err := proc.process(ctx, failedRes(out.TaskID, items[0].SubTask.ID, "worker_1", "boom")); err != nil {
		t.Fatalf("process failure: %v", err)
	}
	// The sibling finishes on its worker after the task already failed.
	if err := proc.process(ctx, completedRes(out.TaskID, items[1].SubTask.ID, "worker_2", `{"ok":true}`)); err != nil {
		t.Fatalf("process late sibling: %v", err)
	}

	task, results, err := core.GetTask(ctx, out.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.State != domain.TaskFailed {
		t.Errorf("state = %s, want failed", task.State)
	}
	if len(results) != 2 {
		t.Errorf("results = %d, want both persisted", len(results))
	}
}

func TestProcessor_InvalidResultDropped(t *testing.T) {
	core, _ := newTestCore(t, chainPlan)
	ctx := context.Background()

	out, err := core.Submit(ctx, "Fetch sales data and produce an analysis report", "tester", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	proc := core.NewResultProcessor(ProcessorConfig{})

	bad := &domain.SubTaskResult{
		TaskID:               out.TaskID,
		SubTaskID:            "subtask_000000000001",
		WorkerID:             "worker_1",
		Outcome:              domain.OutcomeCompleted,
		ExecutionTimeSeconds: 1, // completed but no output
	}
	if err := proc.process(ctx, bad); err != nil {
		t.Fatalf("process returned error for droppable result: %v", err)
	}

	_, results, err := core.GetTask(ctx, out.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("invalid result persisted: %v", results)
	}
}

func TestProcessor_RunConsumesQueue(t *testing.T) {
	core, mem := newTestCore(t, chainPlan)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := core.Submit(ctx, "Fetch sales data and produce an analysis report", "tester", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	root := drainWork(t, mem, 1)[0]

	proc := core.NewResultProcessor(ProcessorConfig{DequeueTimeout: 50 * time.Millisecond})
	done := make(chan struct{})
	go func() {
		defer close(done)
		proc.Run(ctx)
	}()

	if err := mem.EnqueueResult(ctx, completedRes(out.TaskID, root.SubTask.ID, "worker_1", `{"rows":42}`)); err != nil {
		t.Fatalf("EnqueueResult: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		_, results, err := core.GetTask(ctx, out.TaskID)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if len(results) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("result not processed before deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop on cancellation")
	}
}

func TestKeyedMutex_SerializesSameKeyOnly(t *testing.T) {
	km := newKeyedMutex()

	unlockA := km.lock("task_a")
	got := make(chan struct{})
	go func() {
		unlock := km.lock("task_a")
		close(got)
		unlock()
	}()

	select {
	case <-got:
		t.Fatal("second lock on same key acquired while held")
	case <-time.After(30 * time.Millisecond):
	}

	// A different key must not block.
	unlockB := km.lock("task_b")
	unlockB()

	unlockA()
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("second lock never acquired after release")
	}

	// The entry table drains back to empty.
	deadline := time.After(2 * time.Second)
	for {
		km.mu.Lock()
		n := len(km.locks)
		km.mu.Unlock()
		if n == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("lock table still holds %d entries", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

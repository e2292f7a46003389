package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/infra/metrics"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/log"
)

// Core owns the control-plane dependencies: the two stores, the
// planner-backed decomposer, the registry, and the per-task lock map.
// Dispatchers, result processors, and the HTTP handlers are all created
// from it, so components share state through injection instead of
// package globals. Core itself is the task service: submit, query,
// retry, cancel.
type Core struct {
	store      domain.DurableStore
	coord      domain.CoordStore
	registry   *Registry
	decomposer *Decomposer
	tasks      *keyedMutex
	logger     *logrus.Entry
}

// NewCore wires the control plane.
func NewCore(store domain.DurableStore, coord domain.CoordStore, p domain.Planner, registry *Registry) *Core {
	return &Core{
		store:      store,
		coord:      coord,
		registry:   registry,
		decomposer: NewDecomposer(p),
		tasks:      newKeyedMutex(),
		logger:     log.WithComponent("core"),
	}
}

// Registry exposes the worker presence view.
func (c *Core) Registry() *Registry { return c.registry }

// Store exposes the durable store, for health checks.
func (c *Core) Store() domain.DurableStore { return c.store }

// Coord exposes the coordination store, for health checks.
func (c *Core) Coord() domain.CoordStore { return c.coord }

// SubmitOutcome reports what a submission produced.
type SubmitOutcome struct {
	TaskID        string `json:"task_id"`
	SubTasksCount int    `json:"subtasks_count"`
	InitialQueued int    `json:"initial_subtasks_queued"`
}

// Submit validates and persists a new task, decomposes it, and enqueues
// the initial ready set in priority order. The task moves to RUNNING
// only if something was queued; attachmentsRef is recorded in the
// activity trail for the submission.
func (c *Core) Submit(ctx context.Context, description, submitterID, attachmentsRef string) (*SubmitOutcome, error) {
	t := &domain.Task{
		ID:          domain.NewTaskID(),
		SubmitterID: submitterID,
		Description: strings.TrimSpace(description),
		State:       domain.TaskPending,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := c.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	subtasks, dag, err := c.decomposer.Decompose(ctx, t.Description)
	if err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}
	if err := c.store.SetTaskSubTasks(ctx, t.ID, subtasks); err != nil {
		return nil, fmt.Errorf("persist plan: %w", err)
	}

	queued := 0
	for _, st := range dag.InitialReady() {
		if c.enqueue(ctx, t.ID, st, nil) {
			queued++
		}
	}

	if queued > 0 {
		if err := c.store.UpdateTaskState(ctx, t.ID, domain.TaskRunning, nil, ""); err != nil {
			return nil, fmt.Errorf("mark running: %w", err)
		}
	}

	metrics.TasksCreated.Inc()
	meta := map[string]any{"subtasks": len(subtasks), "queued": queued}
	if attachmentsRef != "" {
		meta["attachments_ref"] = attachmentsRef
	}
	c.activity(ctx, t.ID, domain.LevelInfo, "task submitted", meta)
	c.logger.WithFields(logrus.Fields{
		"task_id":  t.ID,
		"subtasks": len(subtasks),
		"queued":   queued,
	}).Info("task submitted")

	return &SubmitOutcome{TaskID: t.ID, SubTasksCount: len(subtasks), InitialQueued: queued}, nil
}

// enqueue marks the subtask in flight and pushes the work item. False
// means the item was not queued; the caller decides what that blocks.
func (c *Core) enqueue(ctx context.Context, taskID string, st domain.SubTask, upstream map[string]json.RawMessage) bool {
	if err := c.coord.AddInflight(ctx, taskID, st.ID); err != nil {
		c.logger.WithError(err).WithField("subtask_id", st.ID).Error("inflight mark failed")
		return false
	}
	item := &domain.WorkItem{TaskID: taskID, SubTask: st, UpstreamContext: upstream}
	if err := c.coord.EnqueueWork(ctx, item); err != nil {
		c.logger.WithError(err).WithField("subtask_id", st.ID).Error("enqueue failed")
		_ = c.coord.RemoveInflight(ctx, taskID, st.ID)
		return false
	}
	return true
}

// GetTask returns the task row plus every recorded subtask result.
func (c *Core) GetTask(ctx context.Context, id string) (*domain.Task, []domain.SubTaskResult, error) {
	task, err := c.store.GetTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	results, err := c.store.GetSubTaskResults(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return task, results, nil
}

// ListTasks returns recent tasks, newest first, optionally filtered by
// submitter.
func (c *Core) ListTasks(ctx context.Context, submitterID string, limit int) ([]domain.Task, error) {
	return c.store.ListTasks(ctx, submitterID, limit)
}

// Retry moves a FAILED task back to RUNNING and re-enqueues only its
// failed subtasks; successors become ready as those complete. Old
// failed rows are copied into the activity log and deleted so the
// unique result constraint admits the fresh outcome.
func (c *Core) Retry(ctx context.Context, id string) (int, error) {
	unlock := c.tasks.lock(id)
	defer unlock()

	task, err := c.store.GetTask(ctx, id)
	if err != nil {
		return 0, err
	}
	if task.State != domain.TaskFailed {
		return 0, fmt.Errorf("%w: retry requires a failed task, state is %s", domain.ErrBadState, task.State)
	}

	results, err := c.store.GetSubTaskResults(ctx, id)
	if err != nil {
		return 0, err
	}

	byID := make(map[string]*domain.SubTask, len(task.SubTasks))
	for i := range task.SubTasks {
		byID[task.SubTasks[i].ID] = &task.SubTasks[i]
	}

	outputs := make(map[string]json.RawMessage)
	var failed []domain.SubTaskResult
	for i := range results {
		if results[i].Outcome == domain.OutcomeFailed {
			failed = append(failed, results[i])
		} else {
			outputs[results[i].SubTaskID] = results[i].Output
		}
	}

	failedIDs := make([]string, 0, len(failed))
	for i := range failed {
		c.activity(ctx, id, domain.LevelWarn, "superseding failed result",
			map[string]any{"result": &failed[i]})
		failedIDs = append(failedIDs, failed[i].SubTaskID)
	}
	if len(failedIDs) > 0 {
		if err := c.store.DeleteSubTaskResults(ctx, id, failedIDs); err != nil {
			return 0, fmt.Errorf("supersede failed results: %w", err)
		}
	}

	if err := c.store.UpdateTaskState(ctx, id, domain.TaskRunning, nil, ""); err != nil {
		return 0, fmt.Errorf("mark running: %w", err)
	}

	queued := 0
	for _, fid := range failedIDs {
		st := byID[fid]
		if st == nil {
			c.logger.WithField("subtask_id", fid).Warn("failed result references unknown subtask")
			continue
		}
		if c.enqueue(ctx, id, *st, upstreamContext(st, outputs)) {
			queued++
		}
	}

	metrics.TasksRetried.Inc()
	c.activity(ctx, id, domain.LevelInfo, "task retried", map[string]any{"requeued": queued})
	c.logger.WithFields(logrus.Fields{"task_id": id, "requeued": queued}).Info("task retried")
	return queued, nil
}

// Cancel stops future work for a PENDING or RUNNING task. In-flight
// executions finish on their workers and their results are persisted,
// but nothing new is enqueued and state never leaves CANCELLED.
func (c *Core) Cancel(ctx context.Context, id string) error {
	unlock := c.tasks.lock(id)
	defer unlock()

	task, err := c.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.IsTerminal() {
		return fmt.Errorf("%w: cannot cancel task in state %s", domain.ErrBadState, task.State)
	}

	if err := c.store.UpdateTaskState(ctx, id, domain.TaskCancelled, nil, ""); err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	_ = c.coord.ClearInflight(ctx, id)
	metrics.TasksCancelled.Inc()
	c.activity(ctx, id, domain.LevelInfo, "task cancelled", nil)
	c.logger.WithField("task_id", id).Info("task cancelled")
	return nil
}

// Workers returns the live worker snapshot.
func (c *Core) Workers(ctx context.Context) ([]domain.Worker, error) {
	return c.registry.Snapshot(ctx)
}

// AvailableWorkers returns live, available workers, optionally filtered
// by one capability. Unknown capability strings are rejected.
func (c *Core) AvailableWorkers(ctx context.Context, capability string) ([]domain.Worker, error) {
	var required []domain.Capability
	if capability != "" {
		parsed, err := domain.ParseCapability(capability)
		if err != nil {
			return nil, err
		}
		required = []domain.Capability{parsed}
	}
	return c.registry.Available(ctx, required)
}

// QueueDepths samples both queue lengths and refreshes their gauges.
func (c *Core) QueueDepths(ctx context.Context) (work, result int64, err error) {
	work, err = c.coord.WorkQueueDepth(ctx)
	if err != nil {
		return 0, 0, err
	}
	result, err = c.coord.ResultQueueDepth(ctx)
	if err != nil {
		return 0, 0, err
	}
	metrics.WorkQueueDepth.Set(float64(work))
	metrics.ResultQueueDepth.Set(float64(result))
	return work, result, nil
}

// RecentActivity surfaces the audit trail, optionally scoped to a task.
func (c *Core) RecentActivity(ctx context.Context, taskID string, limit int) ([]domain.ActivityEntry, error) {
	return c.store.RecentActivity(ctx, taskID, limit)
}

func (c *Core) activity(ctx context.Context, taskID string, level domain.LogLevel, msg string, metadata map[string]any) {
	var blob json.RawMessage
	if metadata != nil {
		blob, _ = json.Marshal(metadata)
	}
	e := &domain.ActivityEntry{WorkerID: "orchestrator", TaskID: taskID, Level: level, Message: msg, Metadata: blob}
	if err := c.store.AppendActivity(ctx, e); err != nil {
		c.logger.WithError(err).Debug("activity append failed")
	}
}

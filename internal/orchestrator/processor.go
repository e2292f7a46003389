package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/infra/metrics"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/log"
)

// ProcessorConfig controls the result loop.
type ProcessorConfig struct {
	DequeueTimeout time.Duration
	StateTTL       time.Duration // lifetime of the hot task-state mirror
}

// DefaultProcessorConfig returns production defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{DequeueTimeout: time.Second, StateTTL: time.Hour}
}

// keyedMutex hands out one mutex per task id so result processing,
// retry, and cancel serialize per task without a global lock. Entries
// are reference-counted and dropped at zero.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*taskLock
}

type taskLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*taskLock)}
}

// lock blocks until the per-key mutex is held and returns the unlock.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l := k.locks[key]
	if l == nil {
		l = &taskLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// ResultProcessor ingests worker results, persists them, and advances
// each task's DAG: failing the task on the first failure, aggregating
// when everything completed, and enqueueing newly ready subtasks
// otherwise.
type ResultProcessor struct {
	store  domain.DurableStore
	coord  domain.CoordStore
	tasks  *keyedMutex
	cfg    ProcessorConfig
	logger *logrus.Entry
}

// NewResultProcessor creates a result loop sharing the core's stores
// and per-task locks.
func (c *Core) NewResultProcessor(cfg ProcessorConfig) *ResultProcessor {
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = DefaultProcessorConfig().DequeueTimeout
	}
	return &ResultProcessor{
		store:  c.store,
		coord:  c.coord,
		tasks:  c.tasks,
		cfg:    cfg,
		logger: log.WithComponent("processor"),
	}
}

// Run consumes the result queue until ctx is cancelled.
func (p *ResultProcessor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		r, err := p.coord.DequeueResult(ctx, p.cfg.DequeueTimeout)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrQueueEmpty):
			case errors.Is(err, domain.ErrQueueClosed):
				return
			case errors.Is(err, domain.ErrPoisonMessage):
				metrics.PoisonMessages.WithLabelValues("result").Inc()
				p.logger.WithError(err).Error("dropping poison result")
			case ctx.Err() != nil:
				return
			default:
				p.logger.WithError(err).Error("result dequeue failed")
				sleepCtx(ctx, time.Second)
			}
			continue
		}

		if err := p.process(ctx, r); err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"task_id":    r.TaskID,
				"subtask_id": r.SubTaskID,
			}).Error("result processing failed")
		}
	}
}

func (p *ResultProcessor) process(ctx context.Context, r *domain.SubTaskResult) error {
	if err := r.Validate(); err != nil {
		metrics.PoisonMessages.WithLabelValues("result").Inc()
		p.logger.WithError(err).Error("dropping invalid result")
		return nil
	}

	inserted, err := p.store.SaveSubTaskResult(ctx, r)
	if err != nil {
		return fmt.Errorf("persist result: %w", err)
	}
	if !inserted {
		// Redelivery. The first write wins; advancement below still
		// recomputes in case the earlier delivery crashed mid-way.
		metrics.DuplicateResults.Inc()
		p.logger.WithFields(logrus.Fields{
			"task_id":    r.TaskID,
			"subtask_id": r.SubTaskID,
		}).Info("duplicate result, keeping first write")
	}
	metrics.ResultsProcessed.WithLabelValues(string(r.Outcome)).Inc()

	// The subtask left flight and the reporting worker is free again,
	// whatever the task state turns out to be.
	_ = p.coord.RemoveInflight(ctx, r.TaskID, r.SubTaskID)
	if err := p.coord.SetWorkerAvailability(ctx, r.WorkerID, true, ""); err != nil {
		p.logger.WithError(err).WithField("worker_id", r.WorkerID).Debug("availability mark failed")
	}

	unlock := p.tasks.lock(r.TaskID)
	defer unlock()
	return p.advance(ctx, r.TaskID)
}

// advance recomputes task state from the full result set. Runs under
// the per-task lock; repeat calls settle on the same answer.
func (p *ResultProcessor) advance(ctx context.Context, taskID string) error {
	task, err := p.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			p.logger.WithField("task_id", taskID).Warn("result for unknown task kept for audit")
			return nil
		}
		return fmt.Errorf("load task: %w", err)
	}
	if task.IsTerminal() {
		// Late results for cancelled or settled tasks are persisted
		// above but never move state and never enqueue successors.
		return nil
	}

	results, err := p.store.GetSubTaskResults(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load results: %w", err)
	}

	completed := make(map[string]bool, len(results))
	outputs := make(map[string]json.RawMessage, len(results))
	var firstFailed *domain.SubTaskResult
	for i := range results {
		switch results[i].Outcome {
		case domain.OutcomeCompleted:
			completed[results[i].SubTaskID] = true
			outputs[results[i].SubTaskID] = results[i].Output
		case domain.OutcomeFailed:
			if firstFailed == nil {
				firstFailed = &results[i]
			}
		}
	}

	if firstFailed != nil {
		msg := fmt.Sprintf("subtask %s failed: %s", firstFailed.SubTaskID, firstFailed.Error)
		if err := p.store.UpdateTaskState(ctx, taskID, domain.TaskFailed, nil, msg); err != nil {
			return fmt.Errorf("mark task failed: %w", err)
		}
		metrics.TasksFailed.Inc()
		p.mirrorState(ctx, taskID, domain.TaskFailed)
		p.appendActivity(ctx, firstFailed.WorkerID, taskID, domain.LevelError, "task failed",
			map[string]any{"subtask_id": firstFailed.SubTaskID, "error": firstFailed.Error})
		p.logger.WithFields(logrus.Fields{
			"task_id":    taskID,
			"subtask_id": firstFailed.SubTaskID,
		}).Warn("task failed")
		return nil
	}

	if len(task.SubTasks) > 0 && len(completed) == len(task.SubTasks) {
		blob, err := json.Marshal(buildAggregate(results))
		if err != nil {
			return fmt.Errorf("marshal aggregate: %w", err)
		}
		if err := p.store.UpdateTaskState(ctx, taskID, domain.TaskCompleted, blob, ""); err != nil {
			return fmt.Errorf("mark task completed: %w", err)
		}
		_ = p.coord.ClearInflight(ctx, taskID)
		metrics.TasksCompleted.Inc()
		p.mirrorState(ctx, taskID, domain.TaskCompleted)
		p.appendActivity(ctx, "orchestrator", taskID, domain.LevelInfo, "task completed",
			map[string]any{"subtasks": len(task.SubTasks)})
		p.logger.WithField("task_id", taskID).Info("task completed")
		return nil
	}

	// Still in progress: unblock whatever became ready.
	dag, err := domain.NewDAG(task.SubTasks)
	if err != nil {
		return fmt.Errorf("rebuild dag: %w", err)
	}
	inflight, err := p.coord.InflightSubTasks(ctx, taskID)
	if err != nil {
		return fmt.Errorf("read inflight: %w", err)
	}

	queued := 0
	for _, st := range dag.ReadyGiven(completed, inflight) {
		item := &domain.WorkItem{
			TaskID:          taskID,
			SubTask:         st,
			UpstreamContext: upstreamContext(&st, outputs),
		}
		// Mark in flight first: a crash between the two calls stalls
		// the subtask until manual retry instead of double-dispatching.
		if err := p.coord.AddInflight(ctx, taskID, st.ID); err != nil {
			p.logger.WithError(err).WithField("subtask_id", st.ID).Error("inflight mark failed")
			continue
		}
		if err := p.coord.EnqueueWork(ctx, item); err != nil {
			p.logger.WithError(err).WithField("subtask_id", st.ID).Error("enqueue failed")
			_ = p.coord.RemoveInflight(ctx, taskID, st.ID)
			continue
		}
		queued++
	}
	if queued > 0 {
		p.logger.WithFields(logrus.Fields{"task_id": taskID, "queued": queued}).Debug("successors enqueued")
	}
	p.mirrorState(ctx, taskID, domain.TaskRunning)
	return nil
}

// mirrorState refreshes the coordination-store copy of the task status
// so pollers can watch progression without hitting the durable store.
// Best effort; the durable row stays authoritative.
func (p *ResultProcessor) mirrorState(ctx context.Context, taskID string, state domain.TaskState) {
	if err := p.coord.SetState(ctx, "task_state:"+taskID, string(state), p.cfg.StateTTL); err != nil {
		p.logger.WithError(err).WithField("task_id", taskID).Debug("state mirror failed")
	}
}

func (p *ResultProcessor) appendActivity(ctx context.Context, workerID, taskID string, level domain.LogLevel, msg string, metadata map[string]any) {
	var blob json.RawMessage
	if metadata != nil {
		blob, _ = json.Marshal(metadata)
	}
	e := &domain.ActivityEntry{WorkerID: workerID, TaskID: taskID, Level: level, Message: msg, Metadata: blob}
	if err := p.store.AppendActivity(ctx, e); err != nil {
		p.logger.WithError(err).Debug("activity append failed")
	}
}

// upstreamContext maps each dependency id to its recorded output.
func upstreamContext(st *domain.SubTask, outputs map[string]json.RawMessage) map[string]json.RawMessage {
	if len(st.Dependencies) == 0 {
		return nil
	}
	uc := make(map[string]json.RawMessage, len(st.Dependencies))
	for _, dep := range st.Dependencies {
		if out, ok := outputs[dep]; ok {
			uc[dep] = out
		}
	}
	return uc
}

// buildAggregate lists every result in creation order under a terse
// summary. Called only when all results completed.
func buildAggregate(results []domain.SubTaskResult) *domain.AggregateResult {
	agg := &domain.AggregateResult{
		SubTaskResults: make([]domain.AggregateEntry, 0, len(results)),
		Summary:        "all completed",
	}
	for i := range results {
		r := &results[i]
		agg.SubTaskResults = append(agg.SubTaskResults, domain.AggregateEntry{
			SubTaskID:            r.SubTaskID,
			WorkerID:             r.WorkerID,
			Output:               r.Output,
			ExecutionTimeSeconds: r.ExecutionTimeSeconds,
		})
	}
	return agg
}

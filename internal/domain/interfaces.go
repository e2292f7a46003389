package domain

import (
	"context"
	"encoding/json"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the orchestrator depends on them.

// PlanStep is one record of raw planner output. Dependencies are 0-based
// indices into the same plan, referencing earlier entries.
type PlanStep struct {
	Description          string   `json:"description"`
	RequiredCapabilities []string `json:"required_capabilities"`
	Dependencies         []int    `json:"dependencies"`
	Priority             int      `json:"priority"`
	EstimatedDuration    int      `json:"estimated_duration"`
}

// Planner turns a task description into subtask specs. It is an external
// call boundary; output is untrusted until the decomposer validates it.
type Planner interface {
	Plan(ctx context.Context, description string) ([]PlanStep, error)
}

// DurableStore persists tasks, subtask results, and activity logs. It is
// the source of truth for history and recovery.
type DurableStore interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, submitterID string, limit int) ([]Task, error)

	// SetTaskSubTasks writes the decomposed plan onto the task row. The
	// task row is created before decomposition so a planner crash leaves
	// a visible PENDING task.
	SetTaskSubTasks(ctx context.Context, id string, subtasks []SubTask) error

	// UpdateTaskState stamps updated_at and replaces state, aggregate, and
	// error in one statement. Callers serialize per task (keyed mutex in
	// the result processor).
	UpdateTaskState(ctx context.Context, id string, state TaskState, aggregate json.RawMessage, errMsg string) error

	// SaveSubTaskResult inserts a result row. A duplicate (task_id,
	// subtask_id) is a no-op returning inserted=false; ingestion stays
	// idempotent under at-least-once delivery.
	SaveSubTaskResult(ctx context.Context, r *SubTaskResult) (inserted bool, err error)
	GetSubTaskResults(ctx context.Context, taskID string) ([]SubTaskResult, error)

	// DeleteSubTaskResults removes superseded rows so a manual retry can
	// record a fresh outcome for the same subtask ids.
	DeleteSubTaskResults(ctx context.Context, taskID string, subtaskIDs []string) error

	AppendActivity(ctx context.Context, e *ActivityEntry) error
	RecentActivity(ctx context.Context, taskID string, limit int) ([]ActivityEntry, error)

	Ping(ctx context.Context) error
	Close() error
}

// CoordStore is the ephemeral coordination store: the two FIFO queues, the
// worker registry hashes with TTL, per-task in-flight sets, and a small
// shared KV space. Queue handoff is atomic; delivery is at-least-once.
type CoordStore interface {
	// Work queue. DequeueWork blocks up to timeout and returns
	// ErrQueueEmpty when nothing arrived; a malformed item is dropped and
	// surfaced as ErrPoisonMessage.
	EnqueueWork(ctx context.Context, item *WorkItem) error
	DequeueWork(ctx context.Context, timeout time.Duration) (*WorkItem, error)
	WorkQueueDepth(ctx context.Context) (int64, error)

	// Result queue. Same contract as the work queue.
	EnqueueResult(ctx context.Context, r *SubTaskResult) error
	DequeueResult(ctx context.Context, timeout time.Duration) (*SubTaskResult, error)
	ResultQueueDepth(ctx context.Context) (int64, error)

	// Worker registry. Status hashes expire after ttl; readers never see
	// an expired worker. SetWorkerAvailability flips the busy flag without
	// touching the TTL (only the owner refreshes it).
	RegisterWorker(ctx context.Context, w *Worker, ttl time.Duration) error
	UpdateWorkerStatus(ctx context.Context, w *Worker, ttl time.Duration) error
	SetWorkerAvailability(ctx context.Context, workerID string, available bool, currentSubTaskID string) error
	DeregisterWorker(ctx context.Context, workerID string) error
	ActiveWorkers(ctx context.Context) ([]Worker, error)

	// Per-task in-flight set: subtask ids queued or executing. Keeps
	// restarts from double-enqueueing ready work.
	AddInflight(ctx context.Context, taskID string, subtaskIDs ...string) error
	RemoveInflight(ctx context.Context, taskID string, subtaskIDs ...string) error
	InflightSubTasks(ctx context.Context, taskID string) (map[string]bool, error)
	ClearInflight(ctx context.Context, taskID string) error

	// Shared KV state with optional TTL. The result processor mirrors
	// hot task status here; worker tooling may stash scratch state.
	SetState(ctx context.Context, key, value string, ttl time.Duration) error
	GetState(ctx context.Context, key string) (string, bool, error)

	Ping(ctx context.Context) error
	Close() error
}

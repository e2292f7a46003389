// Package domain holds the core task types.
// A Task is a user submission that flows through the system:
// submit → decompose → dispatch → execute → collect → aggregate.
package domain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskState tracks the task lifecycle.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Valid returns true if the state is a known value.
func (s TaskState) Valid() bool {
	switch s {
	case TaskPending, TaskRunning, TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Description length bounds enforced at the API boundary.
const (
	MinTaskDescription = 10
	MaxTaskDescription = 5000

	MinSubTaskDescription = 10
	MaxSubTaskDescription = 1000
)

// Priority bounds; higher is more urgent.
const (
	MinPriority     = 0
	MaxPriority     = 10
	DefaultPriority = 5
)

// Task is a user submission decomposed into a DAG of subtasks.
type Task struct {
	ID              string          `json:"id"`
	SubmitterID     string          `json:"submitter_id"`
	Description     string          `json:"description"`
	State           TaskState       `json:"state"`
	SubTasks        []SubTask       `json:"subtasks"`
	AggregateResult json.RawMessage `json:"aggregate_result,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SubTask is the smallest schedulable unit, executed by one worker.
type SubTask struct {
	ID                       string          `json:"id"`
	Description              string          `json:"description"`
	RequiredCapabilities     []Capability    `json:"required_capabilities"`
	Dependencies             []string        `json:"dependencies"`
	Priority                 int             `json:"priority"`
	EstimatedDurationSeconds int             `json:"estimated_duration_seconds,omitempty"`
	InputData                json.RawMessage `json:"input_data,omitempty"`
}

// WorkItem is the work-queue envelope handed to a dispatcher. UpstreamContext
// maps each dependency id to that dependency's output.
type WorkItem struct {
	TaskID          string                     `json:"task_id"`
	SubTask         SubTask                    `json:"subtask"`
	UpstreamContext map[string]json.RawMessage `json:"upstream_context"`
}

// NewTaskID mints a task id: "task_" + 16 hex chars.
func NewTaskID() string {
	u := uuid.New()
	return "task_" + hex.EncodeToString(u[:])[:16]
}

// NewSubTaskID mints a subtask id: "subtask_" + 12 hex chars.
func NewSubTaskID() string {
	u := uuid.New()
	return "subtask_" + hex.EncodeToString(u[:])[:12]
}

// IsTerminal returns true once the task has reached a final state.
// FAILED is terminal for the core; only a manual retry leaves it.
func (t *Task) IsTerminal() bool {
	return t.State == TaskCompleted || t.State == TaskFailed || t.State == TaskCancelled
}

// Validate checks submission constraints. It does not inspect subtasks;
// those are produced by the decomposer which validates its own output.
func (t *Task) Validate() error {
	if l := len(t.Description); l < MinTaskDescription || l > MaxTaskDescription {
		return fmt.Errorf("%w: description length %d outside %d..%d",
			ErrValidation, l, MinTaskDescription, MaxTaskDescription)
	}
	if !t.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrValidation, t.State)
	}
	return nil
}

// Validate checks a single subtask's structural constraints. Dependency
// resolution and acyclicity are graph-level checks (see DAG).
func (st *SubTask) Validate() error {
	if l := len(st.Description); l < MinSubTaskDescription || l > MaxSubTaskDescription {
		return fmt.Errorf("%w: subtask description length %d outside %d..%d",
			ErrValidation, l, MinSubTaskDescription, MaxSubTaskDescription)
	}
	if len(st.RequiredCapabilities) == 0 {
		return fmt.Errorf("%w: subtask %s has no required capabilities", ErrValidation, st.ID)
	}
	for _, c := range st.RequiredCapabilities {
		if !c.Valid() {
			return fmt.Errorf("%w: %q on subtask %s", ErrUnknownCapability, c, st.ID)
		}
	}
	if st.Priority < MinPriority || st.Priority > MaxPriority {
		return fmt.Errorf("%w: priority %d outside %d..%d",
			ErrValidation, st.Priority, MinPriority, MaxPriority)
	}
	if st.EstimatedDurationSeconds < 0 {
		return fmt.Errorf("%w: negative estimated duration", ErrValidation)
	}
	for _, dep := range st.Dependencies {
		if dep == st.ID {
			return fmt.Errorf("%w: subtask %s depends on itself", ErrValidation, st.ID)
		}
	}
	return nil
}

// ClampPriority forces a priority into the valid range.
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

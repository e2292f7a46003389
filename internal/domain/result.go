package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Outcome is the terminal state a worker reports for one subtask.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Valid returns true if the outcome is a known value.
func (o Outcome) Valid() bool {
	return o == OutcomeCompleted || o == OutcomeFailed
}

// SubTaskResult is a worker's report for one subtask. Written once;
// never updated.
type SubTaskResult struct {
	TaskID               string          `json:"task_id"`
	SubTaskID            string          `json:"subtask_id"`
	WorkerID             string          `json:"worker_id"`
	Outcome              Outcome         `json:"outcome"`
	Output               json.RawMessage `json:"output,omitempty"`
	Error                string          `json:"error,omitempty"`
	ExecutionTimeSeconds float64         `json:"execution_time_seconds"`
	CreatedAt            time.Time       `json:"created_at"`
}

// Validate enforces the outcome invariants: COMPLETED carries output,
// FAILED carries an error, and execution time is positive.
func (r *SubTaskResult) Validate() error {
	if r.TaskID == "" || r.SubTaskID == "" || r.WorkerID == "" {
		return fmt.Errorf("%w: result missing task/subtask/worker id", ErrValidation)
	}
	if !r.Outcome.Valid() {
		return fmt.Errorf("%w: unknown outcome %q", ErrValidation, r.Outcome)
	}
	if r.Outcome == OutcomeCompleted && len(r.Output) == 0 {
		return fmt.Errorf("%w: completed result for %s has no output", ErrValidation, r.SubTaskID)
	}
	if r.Outcome == OutcomeFailed && r.Error == "" {
		return fmt.Errorf("%w: failed result for %s has no error", ErrValidation, r.SubTaskID)
	}
	if r.ExecutionTimeSeconds <= 0 {
		return fmt.Errorf("%w: execution time must be positive", ErrValidation)
	}
	return nil
}

// AggregateResult is the blob attached to a COMPLETED task.
type AggregateResult struct {
	SubTaskResults []AggregateEntry `json:"subtask_results"`
	Summary        string           `json:"summary"`
}

// AggregateEntry is one completed subtask inside an aggregate.
type AggregateEntry struct {
	SubTaskID            string          `json:"subtask_id"`
	WorkerID             string          `json:"worker_id"`
	Output               json.RawMessage `json:"output"`
	ExecutionTimeSeconds float64         `json:"execution_time_seconds"`
}

// LogLevel classifies activity-log entries.
type LogLevel string

const (
	LevelInfo  LogLevel = "INFO"
	LevelDebug LogLevel = "DEBUG"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// ActivityEntry is one append-only activity-log row. Both the orchestrator
// and workers write these.
type ActivityEntry struct {
	WorkerID  string          `json:"worker_id"`
	TaskID    string          `json:"task_id,omitempty"`
	Level     LogLevel        `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

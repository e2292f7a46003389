package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
)

// ─── Postgres Driver ────────────────────────────────────────────────────────

// Postgres implements domain.DurableStore on a pgx connection pool. Meant
// for deployments where the orchestrator and workers share one database.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool to the given URL, bounds its size, and
// ensures the schema exists.
func NewPostgres(ctx context.Context, url string, minConns, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse database url")
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	p := &Postgres{pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// ensureSchema creates tables and indexes if they don't exist.
func (p *Postgres) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
    id               TEXT PRIMARY KEY,
    submitter_id     TEXT NOT NULL DEFAULT 'anonymous',
    description      TEXT NOT NULL,
    state            TEXT NOT NULL CHECK (state IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
    subtasks         JSONB NOT NULL DEFAULT '[]',
    aggregate_result JSONB,
    error            TEXT,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT description_length CHECK (LENGTH(description) BETWEEN 10 AND 5000)
)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks (state)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_submitter ON tasks (submitter_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks (created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS subtask_results (
    id             BIGSERIAL PRIMARY KEY,
    task_id        TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    subtask_id     TEXT NOT NULL,
    worker_id      TEXT NOT NULL,
    outcome        TEXT NOT NULL CHECK (outcome IN ('completed', 'failed')),
    output         JSONB,
    error          TEXT,
    execution_time DOUBLE PRECISION NOT NULL CHECK (execution_time > 0),
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (task_id, subtask_id),
    CHECK ((outcome = 'completed' AND output IS NOT NULL) OR (outcome = 'failed' AND error IS NOT NULL))
)`,
		`CREATE INDEX IF NOT EXISTS idx_results_task ON subtask_results (task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_results_worker ON subtask_results (worker_id)`,
		`CREATE INDEX IF NOT EXISTS idx_results_created ON subtask_results (created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS activity_logs (
    id         BIGSERIAL PRIMARY KEY,
    worker_id  TEXT NOT NULL,
    task_id    TEXT,
    level      TEXT NOT NULL CHECK (level IN ('INFO', 'DEBUG', 'ERROR', 'WARN')),
    message    TEXT NOT NULL,
    metadata   JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_worker ON activity_logs (worker_id)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_task ON activity_logs (task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_level ON activity_logs (level)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_created ON activity_logs (created_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "ensure schema")
		}
	}
	return nil
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

// CreateTask inserts a new task row.
func (p *Postgres) CreateTask(ctx context.Context, t *domain.Task) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.SubmitterID == "" {
		t.SubmitterID = "anonymous"
	}

	subs, err := json.Marshal(t.SubTasks)
	if err != nil {
		return errors.Wrap(err, "marshal subtasks")
	}

	_, err = p.pool.Exec(ctx, `
INSERT INTO tasks (id, submitter_id, description, state, subtasks, aggregate_result, error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.SubmitterID, t.Description, string(t.State), subs,
		nullableRaw(t.AggregateResult), nullablePgText(t.Error),
		t.CreatedAt, t.UpdatedAt,
	)
	return errors.Wrap(err, "create task")
}

// GetTask retrieves a task by id.
func (p *Postgres) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := p.pool.QueryRow(ctx, `
SELECT id, submitter_id, description, state, subtasks, aggregate_result, error, created_at, updated_at
FROM tasks WHERE id = $1`, id)
	t, err := scanPgTask(row)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get task")
	}
	return t, nil
}

// ListTasks returns recent tasks, newest first, optionally filtered by
// submitter.
func (p *Postgres) ListTasks(ctx context.Context, submitterID string, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
SELECT id, submitter_id, description, state, subtasks, aggregate_result, error, created_at, updated_at
FROM tasks`
	args := []any{}
	if submitterID != "" {
		query += ` WHERE submitter_id = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, submitterID, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list tasks")
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanPgTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan task")
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// SetTaskSubTasks writes the decomposed plan onto the task row.
func (p *Postgres) SetTaskSubTasks(ctx context.Context, id string, subtasks []domain.SubTask) error {
	subs, err := json.Marshal(subtasks)
	if err != nil {
		return errors.Wrap(err, "marshal subtasks")
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE tasks SET subtasks = $2, updated_at = $3 WHERE id = $1`,
		id, subs, time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "set subtasks")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

// UpdateTaskState replaces state, aggregate, and error, stamping updated_at.
func (p *Postgres) UpdateTaskState(ctx context.Context, id string, state domain.TaskState, aggregate json.RawMessage, errMsg string) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE tasks SET state = $2, aggregate_result = $3, error = $4, updated_at = $5
WHERE id = $1`,
		id, string(state), nullableRaw(aggregate), nullablePgText(errMsg), time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "update task state")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

// ─── Subtask Results ────────────────────────────────────────────────────────

// SaveSubTaskResult inserts a result row; duplicates are a no-op.
func (p *Postgres) SaveSubTaskResult(ctx context.Context, r *domain.SubTaskResult) (bool, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	tag, err := p.pool.Exec(ctx, `
INSERT INTO subtask_results (task_id, subtask_id, worker_id, outcome, output, error, execution_time, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (task_id, subtask_id) DO NOTHING`,
		r.TaskID, r.SubTaskID, r.WorkerID, string(r.Outcome),
		nullableRaw(r.Output), nullablePgText(r.Error),
		r.ExecutionTimeSeconds, r.CreatedAt,
	)
	if err != nil {
		return false, errors.Wrap(err, "save result")
	}
	return tag.RowsAffected() > 0, nil
}

// GetSubTaskResults returns all results for a task in insertion order.
func (p *Postgres) GetSubTaskResults(ctx context.Context, taskID string) ([]domain.SubTaskResult, error) {
	rows, err := p.pool.Query(ctx, `
SELECT task_id, subtask_id, worker_id, outcome, output, error, execution_time, created_at
FROM subtask_results WHERE task_id = $1 ORDER BY id`, taskID)
	if err != nil {
		return nil, errors.Wrap(err, "get results")
	}
	defer rows.Close()

	var results []domain.SubTaskResult
	for rows.Next() {
		var r domain.SubTaskResult
		var outcome string
		var output []byte
		var errMsg *string
		if err := rows.Scan(&r.TaskID, &r.SubTaskID, &r.WorkerID, &outcome,
			&output, &errMsg, &r.ExecutionTimeSeconds, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan result")
		}
		r.Outcome = domain.Outcome(outcome)
		if output != nil {
			r.Output = json.RawMessage(output)
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// DeleteSubTaskResults removes superseded rows for a manual retry.
func (p *Postgres) DeleteSubTaskResults(ctx context.Context, taskID string, subtaskIDs []string) error {
	if len(subtaskIDs) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx,
		`DELETE FROM subtask_results WHERE task_id = $1 AND subtask_id = ANY($2)`,
		taskID, subtaskIDs,
	)
	return errors.Wrap(err, "delete results")
}

// ─── Activity Logs ──────────────────────────────────────────────────────────

// AppendActivity writes one activity-log row.
func (p *Postgres) AppendActivity(ctx context.Context, e *domain.ActivityEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO activity_logs (worker_id, task_id, level, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		e.WorkerID, nullablePgText(e.TaskID), string(e.Level), e.Message,
		nullableRaw(e.Metadata), e.CreatedAt,
	)
	return errors.Wrap(err, "append activity")
}

// RecentActivity returns recent log rows, newest first.
func (p *Postgres) RecentActivity(ctx context.Context, taskID string, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT worker_id, task_id, level, message, metadata, created_at FROM activity_logs`
	args := []any{}
	if taskID != "" {
		query += ` WHERE task_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
		args = append(args, taskID, limit)
	} else {
		query += ` ORDER BY created_at DESC, id DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "recent activity")
	}
	defer rows.Close()

	var entries []domain.ActivityEntry
	for rows.Next() {
		var e domain.ActivityEntry
		var taskID *string
		var level string
		var metadata []byte
		if err := rows.Scan(&e.WorkerID, &taskID, &level, &e.Message, &metadata, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan activity")
		}
		if taskID != nil {
			e.TaskID = *taskID
		}
		e.Level = domain.LogLevel(level)
		if metadata != nil {
			e.Metadata = json.RawMessage(metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Ping checks pool connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func scanPgTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	var state string
	var subs, aggregate []byte
	var errMsg *string

	err := row.Scan(&t.ID, &t.SubmitterID, &t.Description, &state, &subs,
		&aggregate, &errMsg, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.State = domain.TaskState(state)
	if err := json.Unmarshal(subs, &t.SubTasks); err != nil {
		return nil, errors.Wrapf(err, "unmarshal subtasks for %s", t.ID)
	}
	if aggregate != nil {
		t.AggregateResult = json.RawMessage(aggregate)
	}
	if errMsg != nil {
		t.Error = *errMsg
	}
	return &t, nil
}

func nullableRaw(b json.RawMessage) []byte {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

func nullablePgText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

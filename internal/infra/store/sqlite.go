// Package store provides the durable persistence layer: tasks, subtask
// results, and activity logs. Two drivers implement domain.DurableStore:
// SQLite (embedded, WAL mode, the default) and Postgres (pgx pool, for
// shared deployments).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
)

// defaultListLimit caps unpaginated list queries.
const defaultListLimit = 50

// SQLite wraps an embedded database with WAL mode and migrations.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at dir/orchestrator.db.
// Enables WAL mode, foreign keys, and a 5-second busy timeout.
func OpenSQLite(dir string) (*SQLite, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "orchestrator.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// migrate runs idempotent schema migrations.
func (s *SQLite) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id               TEXT PRIMARY KEY,
			submitter_id     TEXT NOT NULL DEFAULT 'anonymous',
			description      TEXT NOT NULL,
			state            TEXT NOT NULL,
			subtasks         TEXT NOT NULL DEFAULT '[]',
			aggregate_result TEXT,
			error            TEXT,
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_submitter ON tasks(submitter_id)`,

		// One row per (task, subtask); duplicates from at-least-once
		// delivery are rejected by the unique constraint.
		`CREATE TABLE IF NOT EXISTS subtask_results (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id        TEXT NOT NULL,
			subtask_id     TEXT NOT NULL,
			worker_id      TEXT NOT NULL,
			outcome        TEXT NOT NULL,
			output         TEXT,
			error          TEXT,
			execution_time REAL NOT NULL,
			created_at     INTEGER NOT NULL,
			UNIQUE(task_id, subtask_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_task ON subtask_results(task_id)`,

		`CREATE TABLE IF NOT EXISTS activity_logs (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			worker_id  TEXT NOT NULL,
			task_id    TEXT,
			level      TEXT NOT NULL,
			message    TEXT NOT NULL,
			metadata   TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_task ON activity_logs(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_level ON activity_logs(level)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_created ON activity_logs(created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

// CreateTask inserts a new task row. Zero timestamps are stamped with now.
func (s *SQLite) CreateTask(ctx context.Context, t *domain.Task) error {
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
		return fmt.Errorf("marshal subtasks: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, submitter_id, description, state, subtasks, aggregate_result, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SubmitterID, t.Description, string(t.State), string(subs),
		nullableBlob(t.AggregateResult), nullableText(t.Error),
		t.CreatedAt.Unix(), t.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by id.
func (s *SQLite) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, submitter_id, description, state, subtasks, aggregate_result, error, created_at, updated_at
		 FROM tasks WHERE id = ?`, id,
	)
	return scanTask(row)
}

// ListTasks returns recent tasks, newest first, optionally filtered by
// submitter.
func (s *SQLite) ListTasks(ctx context.Context, submitterID string, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT id, submitter_id, description, state, subtasks, aggregate_result, error, created_at, updated_at
		 FROM tasks`
	args := []any{}
	if submitterID != "" {
		query += ` WHERE submitter_id = ?`
		args = append(args, submitterID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// SetTaskSubTasks writes the decomposed plan onto the task row.
func (s *SQLite) SetTaskSubTasks(ctx context.Context, id string, subtasks []domain.SubTask) error {
	subs, err := json.Marshal(subtasks)
	if err != nil {
		return fmt.Errorf("marshal subtasks: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET subtasks = ?, updated_at = ? WHERE id = ?`,
		string(subs), time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("set subtasks: %w", err)
	}
	return requireRow(res)
}

// UpdateTaskState replaces state, aggregate, and error, stamping
// updated_at. Callers serialize per task.
func (s *SQLite) UpdateTaskState(ctx context.Context, id string, state domain.TaskState, aggregate json.RawMessage, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET state = ?, aggregate_result = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(state), nullableBlob(aggregate), nullableText(errMsg),
		time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("update task state: %w", err)
	}
	return requireRow(res)
}

// ─── Subtask Results ────────────────────────────────────────────────────────

// SaveSubTaskResult inserts a result row. A duplicate (task_id, subtask_id)
// is a no-op returning inserted=false.
func (s *SQLite) SaveSubTaskResult(ctx context.Context, r *domain.SubTaskResult) (bool, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subtask_results (task_id, subtask_id, worker_id, outcome, output, error, execution_time, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_id, subtask_id) DO NOTHING`,
		r.TaskID, r.SubTaskID, r.WorkerID, string(r.Outcome),
		nullableBlob(r.Output), nullableText(r.Error),
		r.ExecutionTimeSeconds, r.CreatedAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("save result: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetSubTaskResults returns all results for a task in insertion order.
func (s *SQLite) GetSubTaskResults(ctx context.Context, taskID string) ([]domain.SubTaskResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, subtask_id, worker_id, outcome, output, error, execution_time, created_at
		 FROM subtask_results WHERE task_id = ? ORDER BY id`, taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}
	defer rows.Close()

	var results []domain.SubTaskResult
	for rows.Next() {
		var r domain.SubTaskResult
		var outcome string
		var output, errMsg sql.NullString
		var createdAt int64
		if err := rows.Scan(&r.TaskID, &r.SubTaskID, &r.WorkerID, &outcome,
			&output, &errMsg, &r.ExecutionTimeSeconds, &createdAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Outcome = domain.Outcome(outcome)
		if output.Valid {
			r.Output = json.RawMessage(output.String)
		}
		r.Error = errMsg.String
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		results = append(results, r)
	}
	return results, rows.Err()
}

// DeleteSubTaskResults removes superseded rows so a manual retry can record
// a fresh outcome for the same subtask ids.
func (s *SQLite) DeleteSubTaskResults(ctx context.Context, taskID string, subtaskIDs []string) error {
	if len(subtaskIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(subtaskIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(subtaskIDs)+1)
	args = append(args, taskID)
	for _, id := range subtaskIDs {
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subtask_results WHERE task_id = ? AND subtask_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("delete results: %w", err)
	}
	return nil
}

// ─── Activity Logs ──────────────────────────────────────────────────────────

// AppendActivity writes one activity-log row.
func (s *SQLite) AppendActivity(ctx context.Context, e *domain.ActivityEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_logs (worker_id, task_id, level, message, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.WorkerID, nullableText(e.TaskID), string(e.Level), e.Message,
		nullableBlob(e.Metadata), e.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// RecentActivity returns recent log rows, newest first, optionally scoped
// to one task.
func (s *SQLite) RecentActivity(ctx context.Context, taskID string, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT worker_id, task_id, level, message, metadata, created_at FROM activity_logs`
	args := []any{}
	if taskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	defer rows.Close()

	var entries []domain.ActivityEntry
	for rows.Next() {
		var e domain.ActivityEntry
		var taskID, metadata sql.NullString
		var level string
		var createdAt int64
		if err := rows.Scan(&e.WorkerID, &taskID, &level, &e.Message, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.TaskID = taskID.String
		e.Level = domain.LogLevel(level)
		if metadata.Valid {
			e.Metadata = json.RawMessage(metadata.String)
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Ping checks database connectivity.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close cleanly shuts down the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*domain.Task, error) {
	var t domain.Task
	var state, subs string
	var aggregate, errMsg sql.NullString
	var createdAt, updatedAt int64

	err := sc.Scan(&t.ID, &t.SubmitterID, &t.Description, &state, &subs,
		&aggregate, &errMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	t.State = domain.TaskState(state)
	if err := json.Unmarshal([]byte(subs), &t.SubTasks); err != nil {
		return nil, fmt.Errorf("unmarshal subtasks for %s: %w", t.ID, err)
	}
	if aggregate.Valid {
		t.AggregateResult = json.RawMessage(aggregate.String)
	}
	t.Error = errMsg.String
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &t, nil
}

func requireRow(res sql.Result) error {
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func nullableText(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableBlob(b json.RawMessage) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

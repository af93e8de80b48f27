package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Task states.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskSucceeded = "succeeded"
	TaskFailed    = "failed"
	TaskTimedOut  = "timed_out"
	TaskCancelled = "cancelled"
)

// Task is one ad-hoc delegated work item. Durable; owned by the
// dispatcher.
type Task struct {
	ID         string
	Kind       string
	Priority   int
	Payload    string
	State      string
	WorkerID   string
	Result     string
	Error      string
	EnqueuedAt time.Time
	Deadline   time.Time // zero means none
	StartedAt  time.Time
	FinishedAt time.Time
}

// Terminal reports whether the task has reached a final state.
func (t *Task) Terminal() bool {
	switch t.State {
	case TaskSucceeded, TaskFailed, TaskTimedOut, TaskCancelled:
		return true
	}
	return false
}

// CreateTask inserts a pending task.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	var deadline any
	if !t.Deadline.IsZero() {
		deadline = formatTime(t.Deadline)
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	t.State = TaskPending
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO tasks (id, kind, priority, payload, state, enqueued_at, deadline)
		 VALUES (?, ?, ?, ?, 'pending', ?, ?)`,
		t.ID, t.Kind, t.Priority, t.Payload, formatTime(t.EnqueuedAt), deadline)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

const taskColumns = `id, kind, priority, payload, state, worker_id, result, error,
	enqueued_at, deadline, started_at, finished_at`

// ClaimTask atomically claims the next eligible pending task for a
// worker: highest priority first, FIFO within a priority tier. Returns
// nil when the queue is empty.
func (s *Store) ClaimTask(ctx context.Context, workerID string) (*Task, error) {
	now := formatTime(time.Now())
	res, err := s.conn.ExecContext(ctx, `
		UPDATE tasks
		SET state = 'running', worker_id = ?, started_at = ?
		WHERE id = (
			SELECT id FROM tasks
			WHERE state = 'pending'
			ORDER BY priority DESC, enqueued_at ASC, id ASC
			LIMIT 1
		)`, workerID, now)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	row := s.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE worker_id = ? AND state = 'running'
		 ORDER BY started_at DESC LIMIT 1`, workerID)
	return scanTask(row)
}

// FinishTask moves a running task to a terminal state.
func (s *Store) FinishTask(ctx context.Context, id, state, result, errMsg string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE tasks SET state = ?, result = ?, error = ?, finished_at = ?
		 WHERE id = ? AND state = 'running'`,
		state, result, errMsg, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s not running: %w", id, ErrStateConflict)
	}
	return nil
}

// CancelPendingTask removes a pending task from the queue by marking it
// cancelled. Returns false if the task was not pending.
func (s *Store) CancelPendingTask(ctx context.Context, id string) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE tasks SET state = 'cancelled', finished_at = ?
		 WHERE id = ? AND state = 'pending'`,
		formatTime(time.Now()), id)
	if err != nil {
		return false, fmt.Errorf("cancel pending task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n > 0, nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasks returns tasks, optionally filtered by state, in queue order.
func (s *Store) ListTasks(ctx context.Context, state string) ([]Task, error) {
	q := builder().
		Select(taskColumns).
		From("tasks").
		OrderBy("priority DESC", "enqueued_at ASC", "id ASC")
	if state != "" {
		q = q.Where(sq.Eq{"state": state})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build task query: %w", err)
	}
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var payload, workerID, result, errMsg, deadline, startedAt, finishedAt sql.NullString
	var enqueuedAt string
	err := row.Scan(&t.ID, &t.Kind, &t.Priority, &payload, &t.State, &workerID,
		&result, &errMsg, &enqueuedAt, &deadline, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Payload = payload.String
	t.WorkerID = workerID.String
	t.Result = result.String
	t.Error = errMsg.String
	t.EnqueuedAt = parseTime(enqueuedAt)
	t.Deadline = parseTime(deadline.String)
	t.StartedAt = parseTime(startedAt.String)
	t.FinishedAt = parseTime(finishedAt.String)
	return &t, nil
}

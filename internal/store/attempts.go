package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// StageAttempt is an append-only audit record of one execution of one
// pipeline stage. Never mutated after write.
type StageAttempt struct {
	ID        int64
	RepoID    int64
	Stage     string
	Attempt   int
	Outcome   string // "success" or "error"
	ErrorKind string
	StartedAt time.Time
	Latency   time.Duration
}

// AppendStageAttempt inserts an attempt record.
func (s *Store) AppendStageAttempt(ctx context.Context, a *StageAttempt) error {
	var errKind any
	if a.ErrorKind != "" {
		errKind = a.ErrorKind
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO stage_attempts (repo_id, stage, attempt, outcome, error_kind, started_at, latency_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.RepoID, a.Stage, a.Attempt, a.Outcome, errKind, formatTime(a.StartedAt), a.Latency.Milliseconds())
	if err != nil {
		return fmt.Errorf("append stage attempt: %w", err)
	}
	return nil
}

// NextAttemptNumber returns one past the highest recorded attempt for a
// repository stage, starting at 1.
func (s *Store) NextAttemptNumber(ctx context.Context, repoID int64, stage string) (int, error) {
	var max sql.NullInt64
	err := s.conn.QueryRowContext(ctx,
		`SELECT MAX(attempt) FROM stage_attempts WHERE repo_id = ? AND stage = ?`,
		repoID, stage).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("next attempt number: %w", err)
	}
	return int(max.Int64) + 1, nil
}

// ListStageAttempts returns all attempts for a repository, newest first.
func (s *Store) ListStageAttempts(ctx context.Context, repoID int64) ([]StageAttempt, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, repo_id, stage, attempt, outcome, error_kind, started_at, latency_ms
		 FROM stage_attempts WHERE repo_id = ? ORDER BY id DESC`, repoID)
	if err != nil {
		return nil, fmt.Errorf("list stage attempts: %w", err)
	}
	defer rows.Close()

	var attempts []StageAttempt
	for rows.Next() {
		var a StageAttempt
		var errKind sql.NullString
		var startedAt string
		var latencyMs int64
		if err := rows.Scan(&a.ID, &a.RepoID, &a.Stage, &a.Attempt, &a.Outcome, &errKind, &startedAt, &latencyMs); err != nil {
			return nil, fmt.Errorf("scan stage attempt: %w", err)
		}
		a.ErrorKind = errKind.String
		a.StartedAt = parseTime(startedAt)
		a.Latency = time.Duration(latencyMs) * time.Millisecond
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// SaveStageOutput persists the serialized output of a completed stage,
// replacing any previous output for the same stage.
func (s *Store) SaveStageOutput(ctx context.Context, repoID int64, stage string, output []byte) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO stage_outputs (repo_id, stage, output, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(repo_id, stage) DO UPDATE SET output = excluded.output, updated_at = excluded.updated_at`,
		repoID, stage, string(output), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save stage output: %w", err)
	}
	return nil
}

// GetStageOutput reads a persisted stage output. Returns ErrNotFound if
// the stage has not completed since the last reset.
func (s *Store) GetStageOutput(ctx context.Context, repoID int64, stage string) ([]byte, error) {
	var output string
	err := s.conn.QueryRowContext(ctx,
		`SELECT output FROM stage_outputs WHERE repo_id = ? AND stage = ?`,
		repoID, stage).Scan(&output)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stage output: %w", err)
	}
	return []byte(output), nil
}

// ClearStageOutputs removes all persisted outputs for a repository.
// Called when a fresh run is admitted so resume never replays stale data.
func (s *Store) ClearStageOutputs(ctx context.Context, repoID int64) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM stage_outputs WHERE repo_id = ?`, repoID)
	if err != nil {
		return fmt.Errorf("clear stage outputs: %w", err)
	}
	return nil
}

// SaveArtifact records a rendered review artifact reference.
func (s *Store) SaveArtifact(ctx context.Context, repoID int64, kind, location string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO review_artifacts (repo_id, kind, location, created_at) VALUES (?, ?, ?, ?)`,
		repoID, kind, location, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	return nil
}

// Artifact is a reference to a rendered review output.
type Artifact struct {
	ID        int64
	RepoID    int64
	Kind      string
	Location  string
	CreatedAt time.Time
}

// ListArtifacts returns artifacts for a repository, newest first.
func (s *Store) ListArtifacts(ctx context.Context, repoID int64) ([]Artifact, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, repo_id, kind, location, created_at
		 FROM review_artifacts WHERE repo_id = ? ORDER BY id DESC`, repoID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var arts []Artifact
	for rows.Next() {
		var a Artifact
		var createdAt string
		if err := rows.Scan(&a.ID, &a.RepoID, &a.Kind, &a.Location, &createdAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.CreatedAt = parseTime(createdAt)
		arts = append(arts, a)
	}
	return arts, rows.Err()
}

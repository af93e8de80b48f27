// Package store is the durable state store: repository pipeline state,
// the append-only stage attempt log, persisted stage outputs, task queue
// records, and review artifacts. Backed by SQLite.
package store

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

// timeFormat is the canonical timestamp layout for all persisted times.
const timeFormat = time.RFC3339Nano

// Store wraps the SQLite database connection.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens or creates the database at the given path and applies the
// schema. A single connection is used so writes never race.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// builder returns a squirrel statement builder with SQLite placeholders.
func builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

const schema = `
CREATE TABLE IF NOT EXISTS repositories (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    owner            TEXT NOT NULL,
    name             TEXT NOT NULL,
    default_branch   TEXT NOT NULL DEFAULT 'main',
    language         TEXT,
    archived         INTEGER NOT NULL DEFAULT 0,
    pipeline_state   TEXT NOT NULL DEFAULT 'queued',
    last_error_kind  TEXT,
    last_error_stage TEXT,
    last_reviewed_at TEXT,
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL,
    UNIQUE(owner, name)
);
CREATE INDEX IF NOT EXISTS idx_repos_state ON repositories(pipeline_state);

CREATE TABLE IF NOT EXISTS stage_attempts (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    repo_id    INTEGER NOT NULL REFERENCES repositories(id),
    stage      TEXT NOT NULL,
    attempt    INTEGER NOT NULL,
    outcome    TEXT NOT NULL CHECK(outcome IN ('success','error')),
    error_kind TEXT,
    started_at TEXT NOT NULL,
    latency_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_repo ON stage_attempts(repo_id, stage);

CREATE TABLE IF NOT EXISTS stage_outputs (
    repo_id    INTEGER NOT NULL REFERENCES repositories(id),
    stage      TEXT NOT NULL,
    output     TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (repo_id, stage)
);

CREATE TABLE IF NOT EXISTS tasks (
    id          TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    priority    INTEGER NOT NULL DEFAULT 0,
    payload     TEXT,
    state       TEXT NOT NULL DEFAULT 'pending'
                CHECK(state IN ('pending','running','succeeded','failed','timed_out','cancelled')),
    worker_id   TEXT,
    result      TEXT,
    error       TEXT,
    enqueued_at TEXT NOT NULL,
    deadline    TEXT,
    started_at  TEXT,
    finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks(state, priority DESC, enqueued_at ASC);

CREATE TABLE IF NOT EXISTS review_artifacts (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    repo_id    INTEGER NOT NULL REFERENCES repositories(id),
    kind       TEXT NOT NULL,
    location   TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_repo ON review_artifacts(repo_id);
`

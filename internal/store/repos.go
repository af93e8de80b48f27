package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// ErrStateConflict is returned when a compare-and-set state transition
// finds the repository in an unexpected state.
var ErrStateConflict = errors.New("repository not in expected state")

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Repository is the durable record for one reviewed repository.
// Repositories are never deleted, only marked archived.
type Repository struct {
	ID             int64
	Owner          string
	Name           string
	DefaultBranch  string
	Language       string
	Archived       bool
	PipelineState  string
	LastErrorKind  string
	LastErrorStage string
	LastReviewedAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FullName returns owner/name.
func (r *Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// RepoFilter selects repositories for listing.
type RepoFilter struct {
	States          []string  // pipeline states to include; empty means all
	StaleBefore     time.Time // include only repos last reviewed before this (or never)
	IncludeArchived bool
}

// UpsertRepository inserts the repository on first discovery and
// refreshes its metadata on later sweeps, preserving pipeline state.
func (s *Store) UpsertRepository(ctx context.Context, r *Repository) error {
	now := formatTime(time.Now())
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO repositories (owner, name, default_branch, language, archived, pipeline_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'queued', ?, ?)
		ON CONFLICT(owner, name) DO UPDATE SET
			default_branch = excluded.default_branch,
			language       = excluded.language,
			archived       = excluded.archived,
			updated_at     = excluded.updated_at`,
		r.Owner, r.Name, r.DefaultBranch, r.Language, boolToInt(r.Archived), now, now)
	if err != nil {
		return fmt.Errorf("upsert repository %s/%s: %w", r.Owner, r.Name, err)
	}

	got, err := s.GetRepository(ctx, r.Owner, r.Name)
	if err != nil {
		return err
	}
	*r = *got
	return nil
}

const repoColumns = `id, owner, name, default_branch, language, archived, pipeline_state,
	last_error_kind, last_error_stage, last_reviewed_at, created_at, updated_at`

// GetRepository fetches a repository by owner and name.
func (s *Store) GetRepository(ctx context.Context, owner, name string) (*Repository, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+repoColumns+` FROM repositories WHERE owner = ? AND name = ?`, owner, name)
	return scanRepo(row)
}

// GetRepositoryByID fetches a repository by id.
func (s *Store) GetRepositoryByID(ctx context.Context, id int64) (*Repository, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+repoColumns+` FROM repositories WHERE id = ?`, id)
	return scanRepo(row)
}

// ListRepositories returns repositories matching the filter, ordered by
// owner then name for a stable admission order.
func (s *Store) ListRepositories(ctx context.Context, f RepoFilter) ([]Repository, error) {
	q := builder().
		Select(repoColumns).
		From("repositories").
		OrderBy("owner ASC", "name ASC")

	if len(f.States) > 0 {
		q = q.Where(sq.Eq{"pipeline_state": f.States})
	}
	if !f.StaleBefore.IsZero() {
		q = q.Where(sq.Or{
			sq.Eq{"last_reviewed_at": nil},
			sq.Lt{"last_reviewed_at": formatTime(f.StaleBefore)},
		})
	}
	if !f.IncludeArchived {
		q = q.Where(sq.Eq{"archived": 0})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build repository query: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var repos []Repository
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *r)
	}
	return repos, rows.Err()
}

// SetPipelineState transitions a repository's state. When expected
// states are given, the update applies only if the current state is one
// of them; otherwise ErrStateConflict is returned. This enforces the
// single-authoritative-state invariant.
func (s *Store) SetPipelineState(ctx context.Context, id int64, to string, expected ...string) error {
	q := builder().
		Update("repositories").
		Set("pipeline_state", to).
		Set("updated_at", formatTime(time.Now())).
		Where(sq.Eq{"id": id})
	if len(expected) > 0 {
		q = q.Where(sq.Eq{"pipeline_state": expected})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build state update: %w", err)
	}
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set pipeline state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("repository %d -> %s: %w", id, to, ErrStateConflict)
	}
	return nil
}

// SetLastError records the failing stage and error kind for a repository.
func (s *Store) SetLastError(ctx context.Context, id int64, stage, kind string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE repositories SET last_error_kind = ?, last_error_stage = ?, updated_at = ? WHERE id = ?`,
		kind, stage, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set last error: %w", err)
	}
	return nil
}

// MarkReviewed clears the last error and stamps the review time.
func (s *Store) MarkReviewed(ctx context.Context, id int64, at time.Time) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE repositories SET last_reviewed_at = ?, last_error_kind = NULL, last_error_stage = NULL, updated_at = ? WHERE id = ?`,
		formatTime(at), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark reviewed: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepo(row rowScanner) (*Repository, error) {
	var r Repository
	var archived int
	var language, errKind, errStage, reviewedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&r.ID, &r.Owner, &r.Name, &r.DefaultBranch, &language, &archived,
		&r.PipelineState, &errKind, &errStage, &reviewedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan repository: %w", err)
	}
	r.Archived = archived != 0
	r.Language = language.String
	r.LastErrorKind = errKind.String
	r.LastErrorStage = errStage.String
	r.LastReviewedAt = parseTime(reviewedAt.String)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package orchestrator enumerates repositories due for review and
// drives a bounded number of pipeline executions in parallel. Progress
// is checkpointed by the pipeline after every stage transition, so a
// crash mid-batch loses at most one in-flight stage per repository.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/reviewpilot/reviewpilot/internal/config"
	"github.com/reviewpilot/reviewpilot/internal/pipeline"
	"github.com/reviewpilot/reviewpilot/internal/store"
)

// ErrAlreadyRunning is returned when a batch is requested while a prior
// batch is still active for an overlapping repository set.
var ErrAlreadyRunning = errors.New("batch already running for overlapping repositories")

// SelectorKind names a candidate set.
type SelectorKind string

const (
	// SelectAllDue picks every unarchived repository that is eligible:
	// in a terminal state, or stale beyond the review interval.
	SelectAllDue SelectorKind = "all-due"
	// SelectNamed picks a single repository by owner/name.
	SelectNamed SelectorKind = "named"
	// SelectFailed picks repositories whose last run failed.
	SelectFailed SelectorKind = "failed"
)

// Selector determines the candidate repository set for a batch.
type Selector struct {
	Kind  SelectorKind
	Owner string // for SelectNamed
	Name  string // for SelectNamed
}

// Summary aggregates the outcome of one batch.
type Summary struct {
	Started   int `json:"started"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Runner executes one repository pipeline. Satisfied by *pipeline.Runner.
type Runner interface {
	Run(ctx context.Context, repoID int64) error
}

// Orchestrator owns batch admission and the concurrency bound. Review
// settings are read through the config Getter at batch time, so a
// reloaded interval or concurrency applies to the next batch without a
// restart.
type Orchestrator struct {
	store  *store.Store
	runner Runner
	cfg    config.Getter
	log    *slog.Logger

	mu     sync.Mutex
	active map[int64]bool // repositories owned by a running batch
}

// New creates an Orchestrator.
func New(st *store.Store, runner Runner, cfg config.Getter, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:  st,
		runner: runner,
		cfg:    cfg,
		log:    log,
		active: make(map[int64]bool),
	}
}

func (o *Orchestrator) review() config.Review {
	return o.cfg.Config().Review
}

// RunBatch reviews the selected repositories with at most concurrency
// pipelines in flight. Invoking it again while a prior batch holds any
// of the same repositories fails with ErrAlreadyRunning and schedules
// nothing. Cancelling ctx halts admission; in-flight stages finish or
// fail naturally.
func (o *Orchestrator) RunBatch(ctx context.Context, sel Selector, concurrency int) (*Summary, error) {
	if concurrency <= 0 {
		concurrency = o.review().Concurrency
	}

	candidates, skipped, err := o.selectCandidates(ctx, sel)
	if err != nil {
		return nil, err
	}

	if err := o.acquire(candidates); err != nil {
		return nil, err
	}
	defer o.release(candidates)

	summary := o.runCandidates(ctx, candidates, concurrency)
	summary.Skipped += skipped
	o.log.Info("batch finished", "started", summary.Started,
		"succeeded", summary.Succeeded, "failed", summary.Failed, "skipped", summary.Skipped)
	return summary, nil
}

// runCandidates drives the claimed repositories with at most
// concurrency pipelines in flight. The caller holds the claims.
func (o *Orchestrator) runCandidates(ctx context.Context, candidates []store.Repository, concurrency int) *Summary {
	summary := &Summary{}
	var smu sync.Mutex

	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup

	for _, repo := range candidates {
		if err := sem.Acquire(ctx, 1); err != nil {
			smu.Lock()
			summary.Skipped++
			smu.Unlock()
			continue
		}

		smu.Lock()
		summary.Started++
		smu.Unlock()

		wg.Add(1)
		go func(id int64, name string) {
			defer wg.Done()
			defer sem.Release(1)

			// In-flight work is never hard-killed; the pipeline
			// checkpoints per stage and observes ctx at gateway calls.
			err := o.runner.Run(ctx, id)

			smu.Lock()
			if err != nil {
				summary.Failed++
			} else {
				summary.Succeeded++
			}
			smu.Unlock()

			if err != nil {
				o.log.Warn("pipeline failed", "repo", name, "error", err)
			}
		}(repo.ID, repo.FullName())
	}

	wg.Wait()
	return summary
}

// ReviewOne runs a single named repository through the pipeline.
func (o *Orchestrator) ReviewOne(ctx context.Context, owner, name string) (*Summary, error) {
	return o.RunBatch(ctx, Selector{Kind: SelectNamed, Owner: owner, Name: name}, 1)
}

// StartBatch admits a batch and returns once its repositories are
// claimed, finishing in the background. Admission errors (including
// ErrAlreadyRunning) surface immediately; per-repository outcomes are
// visible through the store afterwards.
func (o *Orchestrator) StartBatch(ctx context.Context, sel Selector, concurrency int) (int, error) {
	candidates, _, err := o.selectCandidates(ctx, sel)
	if err != nil {
		return 0, err
	}
	if err := o.acquire(candidates); err != nil {
		return 0, err
	}
	if concurrency <= 0 {
		concurrency = o.review().Concurrency
	}

	// The batch must outlive the caller: an HTTP request context is
	// cancelled as soon as the 202 is written. Only ctx values carry
	// over to the background work.
	bg := context.WithoutCancel(ctx)
	go func() {
		defer o.release(candidates)
		summary := o.runCandidates(bg, candidates, concurrency)
		o.log.Info("batch finished", "started", summary.Started,
			"succeeded", summary.Succeeded, "failed", summary.Failed, "skipped", summary.Skipped)
	}()
	return len(candidates), nil
}

// Resume picks up repositories interrupted mid-pipeline by a previous
// process. Each restarts at the beginning of its last incomplete stage.
func (o *Orchestrator) Resume(ctx context.Context) (*Summary, error) {
	interrupted, err := o.store.ListRepositories(ctx, store.RepoFilter{
		States: []string{
			string(pipeline.StateQueued),
			string(pipeline.StateFetching),
			string(pipeline.StateAnalyzing),
			string(pipeline.StateScoring),
			string(pipeline.StateReporting),
			string(pipeline.StateProposingChange),
		},
	})
	if err != nil {
		return nil, err
	}
	if len(interrupted) == 0 {
		return &Summary{}, nil
	}

	o.log.Info("resuming interrupted reviews", "count", len(interrupted))

	if err := o.acquire(interrupted); err != nil {
		return nil, err
	}
	defer o.release(interrupted)

	return o.runCandidates(ctx, interrupted, o.review().Concurrency), nil
}

// ResumeInBackground runs Resume on its own goroutine so a large
// interrupted backlog does not hold up process startup. The outcome is
// logged.
func (o *Orchestrator) ResumeInBackground(ctx context.Context) {
	go func() {
		summary, err := o.Resume(ctx)
		if err != nil {
			o.log.Warn("resume failed", "error", err)
			return
		}
		if summary.Started > 0 {
			o.log.Info("resume finished", "started", summary.Started,
				"succeeded", summary.Succeeded, "failed", summary.Failed)
		}
	}()
}

// selectCandidates resolves the selector to eligible repositories.
// Ineligible repositories (fresh, or mid-run in another process) count
// as skipped rather than failing the batch.
func (o *Orchestrator) selectCandidates(ctx context.Context, sel Selector) ([]store.Repository, int, error) {
	switch sel.Kind {
	case SelectNamed:
		repo, err := o.store.GetRepository(ctx, sel.Owner, sel.Name)
		if err != nil {
			return nil, 0, fmt.Errorf("select %s/%s: %w", sel.Owner, sel.Name, err)
		}
		return []store.Repository{*repo}, 0, nil

	case SelectFailed:
		repos, err := o.store.ListRepositories(ctx, store.RepoFilter{
			States: []string{string(pipeline.StateFailed)},
		})
		return repos, 0, err

	case SelectAllDue:
		repos, err := o.store.ListRepositories(ctx, store.RepoFilter{})
		if err != nil {
			return nil, 0, err
		}
		staleBefore := time.Now().Add(-o.review().Interval)
		var due []store.Repository
		skipped := 0
		for _, r := range repos {
			if o.eligible(&r, staleBefore) {
				due = append(due, r)
			} else {
				skipped++
			}
		}
		return due, skipped, nil

	default:
		return nil, 0, fmt.Errorf("unknown selector %q", sel.Kind)
	}
}

// eligible applies the admission invariant: terminal state, or stale
// beyond the review interval.
func (o *Orchestrator) eligible(r *store.Repository, staleBefore time.Time) bool {
	st := pipeline.State(r.PipelineState)
	if st.Terminal() || st == pipeline.StateQueued {
		if st == pipeline.StateDone && !r.LastReviewedAt.IsZero() && r.LastReviewedAt.After(staleBefore) {
			return false // reviewed recently enough
		}
		return true
	}
	// Mid-pipeline: only a stale run (likely a dead process) is retaken.
	return r.UpdatedAt.Before(staleBefore)
}

// acquire claims the candidate set for this batch, rejecting overlap.
func (o *Orchestrator) acquire(repos []store.Repository) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range repos {
		if o.active[r.ID] {
			return fmt.Errorf("%s: %w", r.FullName(), ErrAlreadyRunning)
		}
	}
	for _, r := range repos {
		o.active[r.ID] = true
	}
	return nil
}

func (o *Orchestrator) release(repos []store.Repository) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range repos {
		delete(o.active, r.ID)
	}
}

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/reviewpilot/reviewpilot/internal/config"
	"github.com/reviewpilot/reviewpilot/internal/gateway"
	"github.com/reviewpilot/reviewpilot/internal/githubapi"
	"github.com/reviewpilot/reviewpilot/internal/reasoning"
	"github.com/reviewpilot/reviewpilot/internal/scoring"
	"github.com/reviewpilot/reviewpilot/internal/store"
)

// CodeHost is the subset of the code-hosting client the pipeline needs.
type CodeHost interface {
	GetTree(ctx context.Context, owner, repo, ref string) ([]githubapi.TreeEntry, error)
	GetContent(ctx context.Context, owner, repo, path, ref string) (*githubapi.FileContent, error)
}

// Analyzer submits an analysis request to the reasoning service.
type Analyzer interface {
	Analyze(ctx context.Context, req *reasoning.Request) (*reasoning.Assessment, error)
}

// Reporter renders the review into a human-readable artifact and
// returns its location. Externally owned; the pipeline only persists
// the reference.
type Reporter interface {
	Render(repo *store.Repository, a *reasoning.Assessment, sc scoring.Score, st Structure) (rendered string, err error)
	Publish(repo *store.Repository, rendered string) (location string, err error)
}

// Proposal is the result of opening a change request.
type Proposal struct {
	Branch         string
	PullRequestURL string
}

// Proposer builds and opens a change request from the rendered review.
// Externally owned; calls back into the gateway for hosting operations.
type Proposer interface {
	Propose(ctx context.Context, repo *store.Repository, rendered string) (*Proposal, error)
}

// Runner executes review pipelines. One Run drives one repository;
// stages for a single repository never execute concurrently.
type Runner struct {
	store    *store.Store
	host     CodeHost
	analyzer Analyzer
	reporter Reporter
	proposer Proposer
	cfg      config.Review
	log      *slog.Logger
}

// NewRunner wires a Runner. proposer may be nil when change proposals
// are disabled.
func NewRunner(st *store.Store, host CodeHost, analyzer Analyzer, reporter Reporter, proposer Proposer, cfg config.Review, log *slog.Logger) *Runner {
	return &Runner{
		store:    st,
		host:     host,
		analyzer: analyzer,
		reporter: reporter,
		proposer: proposer,
		cfg:      cfg,
		log:      log,
	}
}

// stageFunc executes one stage and returns its serializable output.
type stageFunc func(ctx context.Context, repo *store.Repository, acc *outputs) (any, error)

// Run drives the repository through the pipeline. A repository in a
// terminal state starts fresh; one interrupted mid-run resumes at the
// beginning of its last incomplete stage, replaying persisted outputs
// of completed stages instead of re-executing them.
func (r *Runner) Run(ctx context.Context, repoID int64) error {
	repo, err := r.store.GetRepositoryByID(ctx, repoID)
	if err != nil {
		return fmt.Errorf("load repository %d: %w", repoID, err)
	}

	cur := State(repo.PipelineState)
	if cur.Terminal() || cur == StateQueued {
		// Fresh run: stale outputs must not leak into this cycle.
		if err := r.store.ClearStageOutputs(ctx, repoID); err != nil {
			return err
		}
		if cur != StateQueued {
			if err := r.store.SetPipelineState(ctx, repoID, string(StateQueued), string(cur)); err != nil {
				return err
			}
		}
	} else {
		r.log.Info("resuming interrupted review", "repo", repo.FullName(), "state", repo.PipelineState)
	}

	acc := &outputs{}
	runFor := map[State]stageFunc{
		StateFetching:        r.runFetch,
		StateAnalyzing:       r.runAnalyze,
		StateScoring:         r.runScore,
		StateReporting:       r.runReport,
		StateProposingChange: r.runPropose,
	}

	for _, state := range stageOrder {
		if state == StateProposingChange && !r.cfg.ProposeChanges {
			continue
		}

		// Completed stage outputs replay from the store on resume.
		raw, err := r.store.GetStageOutput(ctx, repoID, string(state))
		if err == nil {
			if err := acc.decode(state, raw); err != nil {
				return fmt.Errorf("decode %s output for %s: %w", state, repo.FullName(), err)
			}
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if err := r.execStage(ctx, repo, state, runFor[state], acc); err != nil {
			return err
		}
	}

	if err := r.store.SetPipelineState(ctx, repoID, string(StateDone)); err != nil {
		return err
	}
	if err := r.store.MarkReviewed(ctx, repoID, time.Now()); err != nil {
		return err
	}
	r.log.Info("review complete", "repo", repo.FullName())
	return nil
}

// execStage runs one stage: transition in, execute, record the attempt,
// persist the output, or mark the repository failed.
func (r *Runner) execStage(ctx context.Context, repo *store.Repository, state State, run stageFunc, acc *outputs) error {
	if err := r.store.SetPipelineState(ctx, repo.ID, string(state)); err != nil {
		return err
	}

	attempt, err := r.store.NextAttemptNumber(ctx, repo.ID, string(state))
	if err != nil {
		return err
	}

	started := time.Now()
	out, runErr := run(ctx, repo, acc)
	latency := time.Since(started)

	rec := &store.StageAttempt{
		RepoID:    repo.ID,
		Stage:     string(state),
		Attempt:   attempt,
		Outcome:   "success",
		StartedAt: started,
		Latency:   latency,
	}
	if runErr != nil {
		rec.Outcome = "error"
		rec.ErrorKind = string(gateway.KindOf(runErr))
	}
	if err := r.store.AppendStageAttempt(ctx, rec); err != nil {
		return err
	}

	if runErr != nil {
		if err := r.store.SetLastError(ctx, repo.ID, string(state), rec.ErrorKind); err != nil {
			return err
		}
		if err := r.store.SetPipelineState(ctx, repo.ID, string(StateFailed)); err != nil {
			return err
		}
		r.log.Warn("stage failed", "repo", repo.FullName(), "stage", string(state),
			"attempt", attempt, "kind", rec.ErrorKind, "error", runErr)
		return fmt.Errorf("%s %s: %w", repo.FullName(), state, runErr)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal %s output: %w", state, err)
	}
	if err := r.store.SaveStageOutput(ctx, repo.ID, string(state), raw); err != nil {
		return err
	}
	return acc.decode(state, raw)
}

// decode loads a stage's persisted output into the accumulator.
func (acc *outputs) decode(state State, raw []byte) error {
	switch state {
	case StateFetching:
		acc.Fetch = &FetchOutput{}
		return json.Unmarshal(raw, acc.Fetch)
	case StateAnalyzing:
		acc.Analyze = &AnalyzeOutput{}
		return json.Unmarshal(raw, acc.Analyze)
	case StateScoring:
		acc.Score = &ScoreOutput{}
		return json.Unmarshal(raw, acc.Score)
	case StateReporting:
		acc.Report = &ReportOutput{}
		return json.Unmarshal(raw, acc.Report)
	case StateProposingChange:
		acc.Propose = &ProposeOutput{}
		return json.Unmarshal(raw, acc.Propose)
	}
	return fmt.Errorf("unknown stage %q", state)
}

// runFetch retrieves the tree and a ranked subset of file contents,
// bounded by the per-repository file and byte budgets.
func (r *Runner) runFetch(ctx context.Context, repo *store.Repository, acc *outputs) (any, error) {
	tree, err := r.host.GetTree(ctx, repo.Owner, repo.Name, repo.DefaultBranch)
	if err != nil {
		return nil, err
	}

	structure := analyzeStructure(tree, repo.DefaultBranch)
	candidates, sampled := rankFiles(tree, r.cfg.MaxFiles)

	out := &FetchOutput{
		Files:     map[string]string{},
		Structure: structure,
		Sampled:   sampled,
	}
	for _, f := range candidates {
		if out.TotalBytes >= r.cfg.MaxBytes {
			out.Sampled = true
			break
		}
		fc, err := r.host.GetContent(ctx, repo.Owner, repo.Name, f.Path, repo.DefaultBranch)
		if err != nil {
			if gateway.IsPermanent(err) {
				// Files can vanish between tree and content reads.
				r.log.Debug("skipping unreadable file", "repo", repo.FullName(), "path", f.Path)
				continue
			}
			return nil, err
		}

		content := fc.Content
		if remain := r.cfg.MaxBytes - out.TotalBytes; int64(len(content)) > remain {
			content = content[:remain]
			out.Sampled = true
		}
		out.Files[f.Path] = string(content)
		out.TotalBytes += int64(len(content))
	}

	return out, nil
}

// runAnalyze submits the fetched bundle to the reasoning service.
func (r *Runner) runAnalyze(ctx context.Context, repo *store.Repository, acc *outputs) (any, error) {
	f := acc.Fetch
	req := &reasoning.Request{
		RepoFullName: repo.FullName(),
		Profile: map[string]string{
			"project_type":    f.Structure.ProjectType,
			"file_count":      strconv.Itoa(f.Structure.FileCount),
			"directory_count": strconv.Itoa(f.Structure.DirectoryCount),
			"has_tests":       strconv.FormatBool(f.Structure.HasTests),
			"has_docs":        strconv.FormatBool(f.Structure.HasDocs),
			"has_ci":          strconv.FormatBool(f.Structure.HasCI),
			"default_branch":  f.Structure.DefaultBranch,
			"sampled":         strconv.FormatBool(f.Sampled),
		},
		Files: f.Files,
	}

	assessment, err := r.analyzer.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}
	return &AnalyzeOutput{Assessment: assessment}, nil
}

// runScore is pure computation; no external I/O.
func (r *Runner) runScore(ctx context.Context, repo *store.Repository, acc *outputs) (any, error) {
	a := acc.Analyze.Assessment
	st := acc.Fetch.Structure
	score := scoring.Compute(scoring.Input{
		Ratings:    a.Ratings,
		HasTests:   st.HasTests,
		HasDocs:    st.HasDocs,
		HasCI:      st.HasCI,
		FileCount:  st.FileCount,
		IssueCount: len(a.Issues),
	})
	return &ScoreOutput{Score: score}, nil
}

// runReport renders and publishes the review artifact.
func (r *Runner) runReport(ctx context.Context, repo *store.Repository, acc *outputs) (any, error) {
	rendered, err := r.reporter.Render(repo, acc.Analyze.Assessment, acc.Score.Score, acc.Fetch.Structure)
	if err != nil {
		return nil, err
	}
	location, err := r.reporter.Publish(repo, rendered)
	if err != nil {
		return nil, err
	}
	if err := r.store.SaveArtifact(ctx, repo.ID, "review_report", location); err != nil {
		return nil, err
	}
	return &ReportOutput{ArtifactLocation: location, Rendered: rendered}, nil
}

// runPropose opens a change request carrying the rendered review.
func (r *Runner) runPropose(ctx context.Context, repo *store.Repository, acc *outputs) (any, error) {
	if r.proposer == nil {
		return nil, fmt.Errorf("change proposals enabled but no proposer configured")
	}
	p, err := r.proposer.Propose(ctx, repo, acc.Report.Rendered)
	if err != nil {
		return nil, err
	}
	return &ProposeOutput{Branch: p.Branch, PullRequestURL: p.PullRequestURL}, nil
}

package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reviewpilot/reviewpilot/internal/gateway"
	"github.com/reviewpilot/reviewpilot/internal/githubapi"
	"github.com/reviewpilot/reviewpilot/internal/pipeline"
	"github.com/reviewpilot/reviewpilot/internal/store"
)

// hostWriter is the subset of the code-hosting client needed to open a
// change request.
type hostWriter interface {
	GetRef(ctx context.Context, owner, repo, branch string) (*githubapi.Ref, error)
	GetContent(ctx context.Context, owner, repo, path, ref string) (*githubapi.FileContent, error)
	CreateBranch(ctx context.Context, owner, repo, branch, fromSHA string) error
	PutFile(ctx context.Context, owner, repo, path, branch, message string, content []byte, sha string) error
	FindOpenPullRequest(ctx context.Context, owner, repo, head string) (*githubapi.PullRequest, error)
	OpenPullRequest(ctx context.Context, owner, repo, title, body, head, base string) (*githubapi.PullRequest, error)
}

// Proposer pushes the status document to a review branch and opens a
// pull request against the default branch.
type Proposer struct {
	host hostWriter
	log  *slog.Logger
	now  func() time.Time
}

// NewProposer creates a Proposer.
func NewProposer(host hostWriter, log *slog.Logger) *Proposer {
	return &Proposer{host: host, log: log, now: time.Now}
}

// Propose creates (or reuses) the dated review branch, commits the
// document, and opens the pull request. Re-running after a crash is
// safe: an existing branch is reused, the file is updated in place,
// and an already-open pull request for the branch is returned instead
// of opening a duplicate.
func (p *Proposer) Propose(ctx context.Context, repo *store.Repository, rendered string) (*pipeline.Proposal, error) {
	base := repo.DefaultBranch
	if base == "" {
		base = "main"
	}
	branch := fmt.Sprintf("reviewpilot/review-%s", p.now().UTC().Format("20060102"))

	baseRef, err := p.host.GetRef(ctx, repo.Owner, repo.Name, base)
	if err != nil {
		return nil, fmt.Errorf("resolve base branch %s: %w", base, err)
	}

	if _, err := p.host.GetRef(ctx, repo.Owner, repo.Name, branch); err != nil {
		if !isMissing(err) {
			return nil, fmt.Errorf("check review branch: %w", err)
		}
		if err := p.host.CreateBranch(ctx, repo.Owner, repo.Name, branch, baseRef.Object.SHA); err != nil {
			return nil, fmt.Errorf("create review branch: %w", err)
		}
	} else {
		p.log.Info("reusing review branch", "repo", repo.FullName(), "branch", branch)
	}

	// Updating an existing file needs its blob SHA; a missing file is
	// a create.
	var fileSHA string
	if existing, err := p.host.GetContent(ctx, repo.Owner, repo.Name, StatusFileName, branch); err == nil {
		fileSHA = existing.SHA
	} else if !isMissing(err) {
		return nil, fmt.Errorf("check existing status file: %w", err)
	}

	message := "Update repository status report"
	if fileSHA == "" {
		message = "Add repository status report"
	}
	if err := p.host.PutFile(ctx, repo.Owner, repo.Name, StatusFileName, branch, message, []byte(rendered), fileSHA); err != nil {
		return nil, fmt.Errorf("commit status file: %w", err)
	}

	// A crash between PR creation and the checkpoint, or a same-day
	// rerun, leaves an open PR for this head; opening another would be
	// rejected by the host.
	if existing, err := p.host.FindOpenPullRequest(ctx, repo.Owner, repo.Name, branch); err != nil {
		return nil, fmt.Errorf("check existing pull request: %w", err)
	} else if existing != nil {
		p.log.Info("reusing open pull request", "repo", repo.FullName(), "pr", existing.HTMLURL)
		return &pipeline.Proposal{Branch: branch, PullRequestURL: existing.HTMLURL}, nil
	}

	title := fmt.Sprintf("Automated review: %s", repo.FullName())
	body := "This pull request was opened by reviewpilot and carries the latest repository status report."
	pr, err := p.host.OpenPullRequest(ctx, repo.Owner, repo.Name, title, body, branch, base)
	if err != nil {
		return nil, fmt.Errorf("open pull request: %w", err)
	}

	p.log.Info("change proposed", "repo", repo.FullName(), "branch", branch, "pr", pr.HTMLURL)
	return &pipeline.Proposal{Branch: branch, PullRequestURL: pr.HTMLURL}, nil
}

// isMissing distinguishes a 404-style permanent miss from a real fault.
func isMissing(err error) bool {
	var gerr *gateway.Error
	return errors.As(err, &gerr) && gerr.Kind == gateway.KindPermanent
}

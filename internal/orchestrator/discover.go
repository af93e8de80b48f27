package orchestrator

import (
	"context"

	"github.com/reviewpilot/reviewpilot/internal/config"
	"github.com/reviewpilot/reviewpilot/internal/githubapi"
	"github.com/reviewpilot/reviewpilot/internal/store"
)

// RepoLister enumerates the repositories of the configured owner.
// Satisfied by *githubapi.Client.
type RepoLister interface {
	ListRepositories(ctx context.Context, owner string) ([]githubapi.Repo, error)
}

// Discover sweeps the configured owner's repositories into the store.
// Known repositories get their metadata refreshed without touching
// pipeline state, so a sweep never disturbs an in-flight review.
func (o *Orchestrator) Discover(ctx context.Context, host RepoLister, gh config.GitHub) (int, error) {
	repos, err := host.ListRepositories(ctx, gh.Owner)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, r := range repos {
		if gh.SkipForks && r.Fork {
			continue
		}
		if gh.SkipArchived && r.Archived {
			continue
		}
		rec := &store.Repository{
			Owner:         r.Owner.Login,
			Name:          r.Name,
			DefaultBranch: r.DefaultBranch,
			Language:      r.Language,
			Archived:      r.Archived,
		}
		if err := o.store.UpsertRepository(ctx, rec); err != nil {
			return n, err
		}
		n++
	}
	o.log.Info("discovery sweep complete", "owner", gh.Owner, "tracked", n, "listed", len(repos))
	return n, nil
}

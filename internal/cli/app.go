package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/reviewpilot/reviewpilot/internal/config"
	"github.com/reviewpilot/reviewpilot/internal/dispatcher"
	"github.com/reviewpilot/reviewpilot/internal/gateway"
	"github.com/reviewpilot/reviewpilot/internal/githubapi"
	"github.com/reviewpilot/reviewpilot/internal/logger"
	"github.com/reviewpilot/reviewpilot/internal/orchestrator"
	"github.com/reviewpilot/reviewpilot/internal/pipeline"
	"github.com/reviewpilot/reviewpilot/internal/reasoning"
	"github.com/reviewpilot/reviewpilot/internal/report"
	"github.com/reviewpilot/reviewpilot/internal/store"
)

// app holds the wired components shared by commands.
type app struct {
	cfgPath  string
	cfg      *config.Config
	cfgWatch *config.Watcher
	log      *slog.Logger
	store    *store.Store
	gw       *gateway.Gateway
	host     *githubapi.Client
	cache    *reasoning.Cache
	runner   *pipeline.Runner
	orch     *orchestrator.Orchestrator
	disp     *dispatcher.Dispatcher
}

// newApp loads config and wires the full component graph. The returned
// cleanup closes the store and cache.
func newApp() (*app, func(), error) {
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = config.ResolveDefaultPath()
	}

	var cfg *config.Config
	var err error
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	log := logger.New(logger.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: cfg.Logging.Service,
	})

	storePath := cfg.Store.Path
	if storePath == "" {
		storePath, err = config.DefaultStorePath()
		if err != nil {
			return nil, nil, err
		}
	}
	st, err := store.Open(storePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	gw := gateway.New(cfg.Gateway, log)
	host := githubapi.New(cfg.GitHub, os.Getenv(cfg.GitHub.TokenEnv), gw, log)

	cache, err := reasoning.NewCache(cfg.Reasoning.CacheMaxBytes, cfg.Reasoning.CacheTTL)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("init reasoning cache: %w", err)
	}
	analyzer := reasoning.New(cfg.Reasoning, os.Getenv(cfg.Reasoning.APIKeyEnv), gw, cache, log)

	reporter := report.NewWriter(cfg.Review.ReportDir)
	var proposer pipeline.Proposer
	if cfg.Review.ProposeChanges {
		proposer = report.NewProposer(host, log)
	}

	// The watcher doubles as the config Getter; until serve starts it,
	// Config() returns the values loaded above.
	cfgWatch := config.NewWatcher(cfgPath, cfg, log)

	runner := pipeline.NewRunner(st, host, analyzer, reporter, proposer, cfg.Review, log)
	orch := orchestrator.New(st, runner, cfgWatch, log)
	disp := dispatcher.New(st, cfg.Dispatcher, log)
	registerHandlers(disp, st, orch, proposer)

	a := &app{
		cfgPath:  cfgPath,
		cfg:      cfg,
		cfgWatch: cfgWatch,
		log:      log,
		store:    st,
		gw:       gw,
		host:     host,
		cache:    cache,
		runner:   runner,
		orch:     orch,
		disp:     disp,
	}
	cleanup := func() {
		cache.Close()
		st.Close()
	}
	return a, cleanup, nil
}

// registerHandlers binds the built-in task kinds.
func registerHandlers(d *dispatcher.Dispatcher, st *store.Store, orch *orchestrator.Orchestrator, proposer pipeline.Proposer) {
	// review_repo: payload {"owner": ..., "name": ...}
	d.Register("review_repo", func(ctx context.Context, t *store.Task) (string, error) {
		var p struct {
			Owner string `json:"owner"`
			Name  string `json:"name"`
		}
		if err := json.Unmarshal([]byte(t.Payload), &p); err != nil {
			return "", fmt.Errorf("parse payload: %w", err)
		}
		summary, err := orch.ReviewOne(ctx, p.Owner, p.Name)
		if err != nil {
			return "", err
		}
		out, _ := json.Marshal(summary)
		return string(out), nil
	})

	// open_pr: payload {"owner": ..., "name": ...}; re-proposes the
	// latest rendered report for a repository.
	d.Register("open_pr", func(ctx context.Context, t *store.Task) (string, error) {
		if proposer == nil {
			return "", fmt.Errorf("change proposals are disabled")
		}
		var p struct {
			Owner string `json:"owner"`
			Name  string `json:"name"`
		}
		if err := json.Unmarshal([]byte(t.Payload), &p); err != nil {
			return "", fmt.Errorf("parse payload: %w", err)
		}
		repo, err := st.GetRepository(ctx, p.Owner, p.Name)
		if err != nil {
			return "", err
		}
		raw, err := st.GetStageOutput(ctx, repo.ID, string(pipeline.StateReporting))
		if err != nil {
			return "", fmt.Errorf("no rendered report for %s: %w", repo.FullName(), err)
		}
		var rep pipeline.ReportOutput
		if err := json.Unmarshal(raw, &rep); err != nil {
			return "", fmt.Errorf("decode report output: %w", err)
		}
		prop, err := proposer.Propose(ctx, repo, rep.Rendered)
		if err != nil {
			return "", err
		}
		out, _ := json.Marshal(prop)
		return string(out), nil
	})

	// report_status: payload {"owner": ..., "name": ...}; returns the
	// repository's current pipeline state and last review time.
	d.Register("report_status", func(ctx context.Context, t *store.Task) (string, error) {
		var p struct {
			Owner string `json:"owner"`
			Name  string `json:"name"`
		}
		if err := json.Unmarshal([]byte(t.Payload), &p); err != nil {
			return "", fmt.Errorf("parse payload: %w", err)
		}
		repo, err := st.GetRepository(ctx, p.Owner, p.Name)
		if err != nil {
			return "", err
		}
		out, _ := json.Marshal(map[string]any{
			"state":            repo.PipelineState,
			"last_reviewed_at": repo.LastReviewedAt.UTC().Format(time.RFC3339),
			"last_error_kind":  repo.LastErrorKind,
			"last_error_stage": repo.LastErrorStage,
		})
		return string(out), nil
	})
}

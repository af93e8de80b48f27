package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reviewpilot/reviewpilot/internal/githubapi"
	"github.com/reviewpilot/reviewpilot/internal/orchestrator"
	"github.com/reviewpilot/reviewpilot/internal/reasoning"
	"github.com/reviewpilot/reviewpilot/internal/store"
)

type batchRequest struct {
	Selector    string `json:"selector"` // all-due | failed | named
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Concurrency int    `json:"concurrency"`
}

type taskRequest struct {
	Kind           string `json:"kind"`
	Payload        string `json:"payload"`
	Priority       int    `json:"priority"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// handleStartBatch admits a batch and returns 202 once its repositories
// are claimed. Progress is observable via repository state.
func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Selector == "" {
		req.Selector = string(orchestrator.SelectAllDue)
	}

	sel := orchestrator.Selector{
		Kind:  orchestrator.SelectorKind(req.Selector),
		Owner: req.Owner,
		Name:  req.Name,
	}
	started, err := s.batcher.StartBatch(r.Context(), sel, req.Concurrency)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"started": started, "selector": req.Selector})
}

// handleReview runs one repository synchronously and reports the outcome.
func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	name := chi.URLParam(r, "name")

	summary, err := s.batcher.ReviewOne(r.Context(), owner, name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if summary.Failed > 0 {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, summary)
}

func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	f := store.RepoFilter{IncludeArchived: r.URL.Query().Get("archived") == "true"}
	if state := r.URL.Query().Get("state"); state != "" {
		f.States = []string{state}
	}
	repos, err := s.store.ListRepositories(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"repositories": repoViews(repos)})
}

func (s *Server) handleGetRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := s.store.GetRepository(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	view := repoView(repo)

	artifacts, err := s.store.ListArtifacts(r.Context(), repo.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	for _, a := range artifacts {
		view.Artifacts = append(view.Artifacts, artifactView{
			Kind:      a.Kind,
			Location:  a.Location,
			CreatedAt: a.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	repo, err := s.store.GetRepository(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	attempts, err := s.store.ListStageAttempts(r.Context(), repo.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Kind == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kind is required"})
		return
	}

	task, err := s.tasks.Enqueue(r.Context(), req.Kind, req.Payload, req.Priority,
		time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context(), r.URL.Query().Get("state"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.tasks.Cancel(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancel requested"})
}

func (s *Server) handleGatewaySnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		githubapi.Service: s.gw.Snapshot(githubapi.Service),
		reasoning.Service: s.gw.Snapshot(reasoning.Service),
	})
}

// ---- view models ----

type repositoryView struct {
	ID             int64          `json:"id"`
	Owner          string         `json:"owner"`
	Name           string         `json:"name"`
	DefaultBranch  string         `json:"default_branch"`
	Language       string         `json:"language,omitempty"`
	Archived       bool           `json:"archived"`
	PipelineState  string         `json:"pipeline_state"`
	LastErrorKind  string         `json:"last_error_kind,omitempty"`
	LastErrorStage string         `json:"last_error_stage,omitempty"`
	LastReviewedAt string         `json:"last_reviewed_at,omitempty"`
	Artifacts      []artifactView `json:"artifacts,omitempty"`
}

type artifactView struct {
	Kind      string    `json:"kind"`
	Location  string    `json:"location"`
	CreatedAt time.Time `json:"created_at"`
}

func repoView(r *store.Repository) repositoryView {
	v := repositoryView{
		ID:             r.ID,
		Owner:          r.Owner,
		Name:           r.Name,
		DefaultBranch:  r.DefaultBranch,
		Language:       r.Language,
		Archived:       r.Archived,
		PipelineState:  r.PipelineState,
		LastErrorKind:  r.LastErrorKind,
		LastErrorStage: r.LastErrorStage,
	}
	if !r.LastReviewedAt.IsZero() {
		v.LastReviewedAt = r.LastReviewedAt.UTC().Format(time.RFC3339)
	}
	return v
}

func repoViews(repos []store.Repository) []repositoryView {
	views := make([]repositoryView, len(repos))
	for i := range repos {
		views[i] = repoView(&repos[i])
	}
	return views
}

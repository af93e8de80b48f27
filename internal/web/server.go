// Package web serves the JSON control API: trigger batches and single
// reviews, inspect repository status, and manage dispatched tasks.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/reviewpilot/reviewpilot/internal/dispatcher"
	"github.com/reviewpilot/reviewpilot/internal/gateway"
	"github.com/reviewpilot/reviewpilot/internal/orchestrator"
	"github.com/reviewpilot/reviewpilot/internal/store"
)

// Batcher is the orchestrator surface the API uses.
type Batcher interface {
	StartBatch(ctx context.Context, sel orchestrator.Selector, concurrency int) (int, error)
	ReviewOne(ctx context.Context, owner, name string) (*orchestrator.Summary, error)
}

// TaskQueue is the dispatcher surface the API uses.
type TaskQueue interface {
	Enqueue(ctx context.Context, kind, payload string, priority int, timeout time.Duration) (*store.Task, error)
	Cancel(ctx context.Context, id string) error
}

// Server exposes the control API over HTTP.
type Server struct {
	store   *store.Store
	batcher Batcher
	tasks   TaskQueue
	gw      *gateway.Gateway
	log     *slog.Logger
	addr    string
}

// NewServer wires the API server.
func NewServer(st *store.Store, batcher Batcher, tasks TaskQueue, gw *gateway.Gateway, addr string, log *slog.Logger) *Server {
	return &Server{store: st, batcher: batcher, tasks: tasks, gw: gw, log: log, addr: addr}
}

// Router builds the chi route tree. The synchronous review route is
// exempt from the request timeout: a single analysis may legitimately
// run for minutes, bounded by the pipeline's own stage timeouts.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/batches", s.handleStartBatch)
			r.Get("/repositories", s.handleListRepositories)
			r.Get("/repositories/{owner}/{name}", s.handleGetRepository)
			r.Get("/repositories/{owner}/{name}/attempts", s.handleListAttempts)
			r.Post("/tasks", s.handleCreateTask)
			r.Get("/tasks", s.handleListTasks)
			r.Get("/tasks/{id}", s.handleGetTask)
			r.Delete("/tasks/{id}", s.handleCancelTask)
			r.Get("/gateway", s.handleGatewaySnapshot)
		})
		r.Post("/repositories/{owner}/{name}/review", s.handleReview)
	})
	return r
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.addr,
		Handler:     s.Router(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: the synchronous review route streams no
		// body but can take minutes; per-route guards live in Router.
		WriteTimeout: 0,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, store.ErrStateConflict), errors.Is(err, dispatcher.ErrNotCancellable):
		status = http.StatusConflict
	case errors.Is(err, dispatcher.ErrUnknownKind):
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

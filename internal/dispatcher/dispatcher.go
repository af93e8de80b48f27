// Package dispatcher runs ad-hoc delegated tasks on a fixed worker
// pool. Tasks are durable rows claimed atomically from the store, so
// two workers can never run the same task and a restart only loses
// tasks that were mid-execution (those stay "running" until retried or
// cancelled by an operator).
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reviewpilot/reviewpilot/internal/config"
	"github.com/reviewpilot/reviewpilot/internal/store"
)

// ErrUnknownKind is returned for tasks with no registered handler.
var ErrUnknownKind = errors.New("no handler registered for task kind")

// ErrNotCancellable is returned when a cancel request finds the task
// already terminal.
var ErrNotCancellable = errors.New("task already finished")

// Handler executes one task and returns its result payload.
type Handler func(ctx context.Context, task *store.Task) (string, error)

// Dispatcher owns the worker pool and the handler registry.
type Dispatcher struct {
	store *store.Store
	cfg   config.Dispatcher
	log   *slog.Logger

	handlers map[string]Handler

	stopCh    chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	mu      sync.Mutex
	running map[string]context.CancelFunc // task id -> cancel for in-flight work
}

// New creates a Dispatcher. Register handlers before Start.
func New(st *store.Store, cfg config.Dispatcher, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    st,
		cfg:      cfg,
		log:      log,
		handlers: make(map[string]Handler),
		stopCh:   make(chan struct{}),
		running:  make(map[string]context.CancelFunc),
	}
}

// Register binds a handler to a task kind. Later registrations for the
// same kind win.
func (d *Dispatcher) Register(kind string, h Handler) {
	d.handlers[kind] = h
}

// Enqueue creates a pending task and returns its id. A zero timeout
// means the task has no deadline.
func (d *Dispatcher) Enqueue(ctx context.Context, kind, payload string, priority int, timeout time.Duration) (*store.Task, error) {
	if _, ok := d.handlers[kind]; !ok {
		return nil, fmt.Errorf("%s: %w", kind, ErrUnknownKind)
	}
	t := &store.Task{
		ID:       uuid.NewString(),
		Kind:     kind,
		Priority: priority,
		Payload:  payload,
	}
	if timeout > 0 {
		t.Deadline = time.Now().Add(timeout)
	}
	if err := d.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	d.log.Info("task enqueued", "id", t.ID, "kind", kind, "priority", priority)
	return t, nil
}

// Cancel stops a task. A pending task leaves the queue immediately; a
// running task has its context cancelled and records "cancelled" once
// the handler unwinds. Terminal tasks return ErrNotCancellable.
func (d *Dispatcher) Cancel(ctx context.Context, id string) error {
	ok, err := d.store.CancelPendingTask(ctx, id)
	if err != nil {
		return err
	}
	if ok {
		d.log.Info("pending task cancelled", "id", id)
		return nil
	}

	d.mu.Lock()
	cancel, inFlight := d.running[id]
	d.mu.Unlock()
	if inFlight {
		cancel()
		d.log.Info("running task cancel requested", "id", id)
		return nil
	}

	t, err := d.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if t.Terminal() {
		return fmt.Errorf("task %s: %w", id, ErrNotCancellable)
	}
	// Running under a worker that died; finish it so the row is not
	// stuck forever.
	return d.store.FinishTask(ctx, id, store.TaskCancelled, "", "cancelled by operator")
}

// Start launches the worker pool. Each worker polls the store for the
// next claimable task.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		for i := 0; i < d.cfg.Workers; i++ {
			workerID := fmt.Sprintf("worker-%d", i+1)
			d.wg.Add(1)
			go d.runWorker(ctx, workerID)
		}
		d.log.Info("dispatcher started", "workers", d.cfg.Workers)
	})
}

// Stop halts polling and waits for in-flight handlers to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.wg.Wait()
		d.log.Info("dispatcher stopped")
	})
}

func (d *Dispatcher) runWorker(ctx context.Context, workerID string) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		task, err := d.store.ClaimTask(ctx, workerID)
		if err != nil {
			d.log.Error("claim failed", "worker", workerID, "error", err)
			continue
		}
		if task == nil {
			continue
		}
		d.execute(ctx, workerID, task)
	}
}

// execute runs one claimed task, enforcing its deadline through the
// handler's context. The terminal state distinguishes a deadline from
// an operator cancel.
func (d *Dispatcher) execute(ctx context.Context, workerID string, task *store.Task) {
	taskCtx, cancel := context.WithCancel(ctx)
	if !task.Deadline.IsZero() {
		taskCtx, cancel = context.WithDeadline(ctx, task.Deadline)
	}
	defer cancel()

	d.mu.Lock()
	d.running[task.ID] = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.running, task.ID)
		d.mu.Unlock()
	}()

	handler, ok := d.handlers[task.Kind]
	if !ok {
		d.finish(task.ID, store.TaskFailed, "", ErrUnknownKind.Error())
		return
	}

	d.log.Info("task started", "id", task.ID, "kind", task.Kind, "worker", workerID)
	start := time.Now()
	result, err := handler(taskCtx, task)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		d.finish(task.ID, store.TaskSucceeded, result, "")
		d.log.Info("task succeeded", "id", task.ID, "elapsed", elapsed)
	case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		d.finish(task.ID, store.TaskTimedOut, "", fmt.Sprintf("deadline exceeded after %s", elapsed.Round(time.Millisecond)))
		d.log.Warn("task timed out", "id", task.ID, "elapsed", elapsed)
	case errors.Is(taskCtx.Err(), context.Canceled) && ctx.Err() == nil:
		d.finish(task.ID, store.TaskCancelled, "", "cancelled while running")
		d.log.Info("task cancelled", "id", task.ID)
	default:
		d.finish(task.ID, store.TaskFailed, "", err.Error())
		d.log.Warn("task failed", "id", task.ID, "error", err)
	}
}

// finish persists the terminal state. A lost race (e.g. an operator
// cancel landing first) is logged, not escalated: the row already
// carries a terminal outcome.
func (d *Dispatcher) finish(id, state, result, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.FinishTask(ctx, id, state, result, errMsg); err != nil {
		d.log.Error("record task outcome", "id", id, "state", state, "error", err)
	}
}

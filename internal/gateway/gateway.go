package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/reviewpilot/reviewpilot/internal/config"
)

// CallFunc performs one attempt of an outbound call. Implementations
// must honor ctx cancellation and classify failures with the Error
// constructors in this package; unclassified errors are treated as
// transient.
type CallFunc func(ctx context.Context) error

// CallOption adjusts a single Call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the per-attempt timeout for this call. Useful
// for long-running analysis requests.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// Gateway serializes rate-budget access and applies the retry, backoff,
// and circuit-breaking policy to every outbound call. One Gateway is
// shared by the review pipelines and the task dispatcher, so both
// compete for the same per-service budgets.
type Gateway struct {
	cfg config.Gateway
	log *slog.Logger

	mu      sync.Mutex
	budgets map[string]*budget

	// injectable for tests
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// New creates a Gateway with the given policy.
func New(cfg config.Gateway, log *slog.Logger) *Gateway {
	return &Gateway{
		cfg:     cfg,
		log:     log,
		budgets: make(map[string]*budget),
		now:     time.Now,
		sleep:   sleepCtx,
		jitter:  defaultJitter,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *Gateway) budgetFor(service string) *budget {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.budgets[service]
	if !ok {
		b = newBudget()
		g.budgets[service] = b
	}
	return b
}

// Observe folds rate-limit signals from a successful response into the
// service's budget.
func (g *Gateway) Observe(service string, remaining int, resetAt time.Time) {
	g.budgetFor(service).observe(remaining, resetAt)
}

// Snapshot returns the current budget state for a service.
func (g *Gateway) Snapshot(service string) BudgetSnapshot {
	return g.budgetFor(service).snapshot()
}

// Call runs fn with the gateway's policy:
//   - fails fast with a rate-limited error while the circuit is open
//   - waits out a known quota exhaustion (bounded by ctx)
//   - retries transient failures with exponential backoff and jitter
//   - retries rate-limited failures after the server's reset hint when
//     present, else after backoff
//   - returns permanent failures and timeouts without retrying
//
// Each attempt is bounded by the configured call timeout unless
// WithTimeout overrides it.
func (g *Gateway) Call(ctx context.Context, service, op string, fn CallFunc, opts ...CallOption) error {
	o := callOptions{timeout: g.cfg.CallTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	b := g.budgetFor(service)
	var lastErr *Error

	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		ok, wait := b.admit(g.now(), g.cfg.BreakerCooldown)
		if !ok {
			if wait <= 0 {
				return &Error{Kind: KindRateLimited, Service: service, Op: op, Err: ErrCircuitOpen, Remaining: -1}
			}
			g.log.Debug("rate budget exhausted, waiting for reset",
				"service", service, "op", op, "wait", wait)
			if err := g.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		err := g.attempt(ctx, fn, o.timeout)
		if err == nil {
			b.onSuccess()
			return nil
		}

		ge := g.classify(err, service, op)
		b.observe(ge.Remaining, ge.ResetAt)

		if ctx.Err() != nil && ge.Kind != KindTimeout {
			// Parent context is gone; surface the cancellation.
			b.onFailure(g.now(), g.cfg.BreakerThreshold)
			return ctx.Err()
		}

		b.onFailure(g.now(), g.cfg.BreakerThreshold)

		switch ge.Kind {
		case KindPermanent, KindTimeout:
			return ge
		}

		lastErr = ge

		delay := backoffDelay(g.cfg.BaseDelay, g.cfg.MaxDelay, attempt, g.jitter)
		if ge.Kind == KindRateLimited && ge.RetryAfter > 0 {
			delay = ge.RetryAfter
		}

		g.log.Debug("call failed, backing off",
			"service", service, "op", op, "attempt", attempt+1,
			"kind", string(ge.Kind), "delay", delay, "error", ge.Err)

		if attempt+1 < g.cfg.MaxAttempts {
			if err := g.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	if lastErr != nil {
		return lastErr
	}
	return &Error{Kind: KindRateLimited, Service: service, Op: op, Err: ErrCircuitOpen, Remaining: -1}
}

// attempt runs fn bounded by the per-attempt timeout and converts a
// deadline expiry into a timeout error.
func (g *Gateway) attempt(ctx context.Context, fn CallFunc, timeout time.Duration) error {
	actx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := fn(actx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return Timeout(err)
	}
	return err
}

// classify normalizes any error into a *Error tagged with service and op.
func (g *Gateway) classify(err error, service, op string) *Error {
	var ge *Error
	if !errors.As(err, &ge) {
		ge = Transient(err)
	}
	// Copy so hints on the client's error survive while Service/Op are set.
	out := *ge
	out.Service = service
	out.Op = op
	return &out
}

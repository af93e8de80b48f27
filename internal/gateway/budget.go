package gateway

import (
	"sync"
	"time"
)

// CircuitState is the breaker position for one service.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// budget is the per-service rate and circuit state. It is cached,
// best-effort knowledge reconstructed from the service's own limit
// signals; the service remains authoritative.
type budget struct {
	mu sync.Mutex

	remaining int // -1 means unknown
	resetAt   time.Time

	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool // a half-open probe is in flight
}

func newBudget() *budget {
	return &budget{remaining: -1, state: CircuitClosed}
}

// admit decides whether a call may proceed. It returns (false, wait>0)
// when the caller should wait for the quota reset, and (false, 0) when
// the circuit is open. Open circuits transition to half-open once the
// cool-down has elapsed, admitting exactly one probe.
func (b *budget) admit(now time.Time, cooldown time.Duration) (ok bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.remaining == 0 && now.Before(b.resetAt) {
		return false, b.resetAt.Sub(now)
	}

	switch b.state {
	case CircuitOpen:
		if now.Sub(b.openedAt) < cooldown {
			return false, 0
		}
		b.state = CircuitHalfOpen
		b.probing = true
	case CircuitHalfOpen:
		if b.probing {
			return false, 0
		}
		b.probing = true
	}
	return true, 0
}

// onSuccess records a successful call and closes the circuit.
func (b *budget) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = CircuitClosed
	b.probing = false
	if b.remaining > 0 {
		b.remaining--
	}
}

// onFailure records a failed call, trips the breaker at the threshold,
// and reopens immediately on a failed half-open probe.
func (b *budget) onFailure(now time.Time, threshold int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.probing = false
	if b.state == CircuitHalfOpen || b.failures >= threshold {
		b.state = CircuitOpen
		b.openedAt = now
	}
}

// observe folds rate-limit hints from a response into the budget.
func (b *budget) observe(remaining int, resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remaining >= 0 {
		b.remaining = remaining
	}
	if !resetAt.IsZero() {
		b.resetAt = resetAt
	}
}

// snapshot returns the current state for status reporting.
func (b *budget) snapshot() BudgetSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BudgetSnapshot{
		Remaining: b.remaining,
		ResetAt:   b.resetAt,
		Circuit:   b.state,
		Failures:  b.failures,
	}
}

// BudgetSnapshot is a point-in-time view of one service's rate budget.
type BudgetSnapshot struct {
	Remaining int          `json:"remaining"`
	ResetAt   time.Time    `json:"reset_at"`
	Circuit   CircuitState `json:"circuit"`
	Failures  int          `json:"failures"`
}

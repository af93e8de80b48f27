// Package gateway wraps every outbound service call with retry, backoff,
// rate-budget accounting, and circuit breaking.
package gateway

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failed outbound call.
type Kind string

const (
	// KindRateLimited means the service signaled quota exhaustion, or the
	// circuit for the service is open. Retried after a delay.
	KindRateLimited Kind = "rate_limited"
	// KindTransient covers network errors and 5xx-class responses.
	// Retried with backoff up to the attempt budget.
	KindTransient Kind = "transient"
	// KindPermanent covers authorization, not-found, and malformed
	// requests. Never retried.
	KindPermanent Kind = "permanent"
	// KindTimeout means the caller-supplied timeout elapsed. The gateway
	// does not retry; the caller decides.
	KindTimeout Kind = "timeout"
)

// ErrCircuitOpen is returned (wrapped in a rate-limited Error) when the
// circuit breaker for a service is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Error is a classified failure from an outbound call. Clients return it
// from their CallFunc so the gateway can pick the right retry policy;
// callers receive it with Service and Op filled in.
type Error struct {
	Kind    Kind
	Service string
	Op      string
	Err     error

	// Rate-limit hints from the service, when present.
	RetryAfter time.Duration // explicit wait hint; 0 means unknown
	Remaining  int           // remaining quota; -1 means unknown
	ResetAt    time.Time     // quota reset time; zero means unknown
}

func (e *Error) Error() string {
	if e.Service != "" || e.Op != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Service, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// RateLimited wraps err as a rate-limit failure.
func RateLimited(err error) *Error {
	return &Error{Kind: KindRateLimited, Err: err, Remaining: -1}
}

// Transient wraps err as a retryable failure.
func Transient(err error) *Error {
	return &Error{Kind: KindTransient, Err: err, Remaining: -1}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) *Error {
	return &Error{Kind: KindPermanent, Err: err, Remaining: -1}
}

// Timeout wraps err as a timeout failure.
func Timeout(err error) *Error {
	return &Error{Kind: KindTimeout, Err: err, Remaining: -1}
}

// KindOf extracts the failure kind from err, defaulting to transient for
// unclassified errors. Returns "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindTransient
}

// IsRateLimited reports whether err is classified as rate-limited.
func IsRateLimited(err error) bool { return KindOf(err) == KindRateLimited }

// IsPermanent reports whether err is classified as permanent.
func IsPermanent(err error) bool { return KindOf(err) == KindPermanent }

// IsTimeout reports whether err is classified as a timeout.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

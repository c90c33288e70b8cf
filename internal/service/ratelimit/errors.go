package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCircuitOpen   = errors.New("circuit breaker is open")
	ErrQuotaExceeded = errors.New("request quota exceeded")
)

type Scope string

const (
	ScopeBreaker Scope = "breaker"
	ScopeWindow  Scope = "window"
	ScopeMonthly Scope = "monthly"
)

// Rejection is returned by TryAcquire when a request must not be sent.
// It unwraps to ErrCircuitOpen or ErrQuotaExceeded.
type Rejection struct {
	Reason     error
	Scope      Scope
	RetryAfter time.Duration
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%v (%s, retry after %s)", r.Reason, r.Scope, r.RetryAfter.Round(time.Millisecond))
}

func (r *Rejection) Unwrap() error { return r.Reason }

// Key is the label used for rejection counters.
func (r *Rejection) Key() string {
	if r.Scope == ScopeBreaker {
		return "circuit_open"
	}
	return "quota_" + string(r.Scope)
}

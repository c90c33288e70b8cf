package models

import (
	"fmt"
	"time"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

func (s BreakerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *BreakerState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "CLOSED":
		*s = BreakerClosed
	case "OPEN":
		*s = BreakerOpen
	case "HALF_OPEN":
		*s = BreakerHalfOpen
	default:
		return fmt.Errorf("unknown breaker state %q", b)
	}
	return nil
}

// LimiterStats is a point-in-time copy of the rate limiter state.
type LimiterStats struct {
	WindowStart          time.Time        `json:"window_start"`
	WindowRequests       int              `json:"window_requests"`
	WindowCeiling        int              `json:"window_ceiling"`
	Month                string           `json:"month"`
	MonthlyUsed          int64            `json:"monthly_used"`
	MonthlyQuota         int64            `json:"monthly_quota"`
	State                BreakerState     `json:"state"`
	TrippedAt            time.Time        `json:"tripped_at,omitempty"`
	RecoveryAt           time.Time        `json:"recovery_at,omitempty"`
	ConsecutiveFailures  int              `json:"consecutive_failures"`
	ConsecutiveSuccesses int              `json:"consecutive_successes"`
	Attempts             int64            `json:"attempts"`
	Allowed              int64            `json:"allowed"`
	Rejected             map[string]int64 `json:"rejected"`
	Successes            int64            `json:"successes"`
	Failures             int64            `json:"failures"`
}

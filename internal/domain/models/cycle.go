package models

import "time"

// ErrorKind classifies per-symbol failures collected during a cycle.
type ErrorKind string

const (
	ErrKindQuotaExceeded ErrorKind = "quota_exceeded"
	ErrKindCircuitOpen   ErrorKind = "circuit_open"
	ErrKindProvider      ErrorKind = "provider_error"
	ErrKindComputation   ErrorKind = "computation_error"
	ErrKindTimeout       ErrorKind = "timeout"
	ErrKindPanic         ErrorKind = "panic"
)

// CycleError is a recoverable failure for one symbol (and optionally timeframe).
type CycleError struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe,omitempty"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
}

func (e CycleError) Error() string {
	if e.Timeframe != "" {
		return string(e.Kind) + " " + e.Symbol + "@" + e.Timeframe + ": " + e.Message
	}
	return string(e.Kind) + " " + e.Symbol + ": " + e.Message
}

type Trigger string

const (
	TriggerStartup Trigger = "startup"
	TriggerTimer   Trigger = "timer"
	TriggerManual  Trigger = "manual"
	TriggerRemote  Trigger = "remote"
)

// CycleSummary is what remains of a calculation cycle once it finishes.
type CycleSummary struct {
	ID               uint64       `json:"id"`
	Trigger          Trigger      `json:"trigger"`
	StartedAt        time.Time    `json:"started_at"`
	FinishedAt       time.Time    `json:"finished_at"`
	InProgress       bool         `json:"in_progress"`
	SymbolsProcessed int          `json:"symbols_processed"`
	SymbolsStale     int          `json:"symbols_stale"`
	SignalsGenerated int          `json:"signals_generated"`
	Failed           bool         `json:"failed"`
	Errors           []CycleError `json:"errors,omitempty"`
}

func (s CycleSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Freshness is the per-symbol data age shown to API consumers.
type Freshness struct {
	Symbol        string    `json:"symbol"`
	LastFetchedAt time.Time `json:"last_fetched_at"`
	Stale         bool      `json:"stale"`
	Available     bool      `json:"available"`
	Reason        ErrorKind `json:"reason,omitempty"`
	AgeSeconds    float64   `json:"age_seconds"`
}

// CycleResult is handed to every sink once the cache has been swapped.
type CycleResult struct {
	Summary     CycleSummary `json:"summary"`
	Signals     []Signal     `json:"signals"`
	Freshness   []Freshness  `json:"freshness"`
	CompletedAt time.Time    `json:"completed_at"`
}

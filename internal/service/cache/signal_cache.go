// Package cache holds the latest computed signals behind an atomically swapped snapshot.
package cache

import (
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"SignalPulse/internal/domain/models"
)

// ErrNotYetComputed is returned for a key no cycle has produced yet.
var ErrNotYetComputed = errors.New("signal not yet computed")

// Snapshot is the complete output of one cycle. It must not be modified after ReplaceAll.
type Snapshot struct {
	CycleID     uint64
	CompletedAt time.Time
	Summary     models.CycleSummary
	Signals     map[models.SignalKey]models.Signal
	Freshness   map[string]models.Freshness
}

// SignalCache has a single writer (the cycle coordinator) and any number of lock-free readers.
type SignalCache struct {
	current atomic.Pointer[Snapshot]
	now     func() time.Time
}

type Option func(*SignalCache)

func WithClock(now func() time.Time) Option { return func(c *SignalCache) { c.now = now } }

func New(opts ...Option) *SignalCache {
	c := &SignalCache{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReplaceAll publishes s as the current snapshot.
func (c *SignalCache) ReplaceAll(s *Snapshot) {
	if s == nil {
		return
	}
	c.current.Store(s)
}

// Snapshot returns the current snapshot or nil before the first cycle completes.
func (c *SignalCache) Snapshot() *Snapshot {
	return c.current.Load()
}

func (c *SignalCache) Get(symbol, timeframe string) (models.Signal, error) {
	s := c.current.Load()
	if s == nil {
		return models.Signal{}, ErrNotYetComputed
	}
	sig, ok := s.Signals[models.SignalKey{Symbol: symbol, Timeframe: timeframe}]
	if !ok {
		return models.Signal{}, ErrNotYetComputed
	}
	return sig, nil
}

// GetAll returns a copy of every signal of the current snapshot.
func (c *SignalCache) GetAll() map[models.SignalKey]models.Signal {
	s := c.current.Load()
	if s == nil {
		return map[models.SignalKey]models.Signal{}
	}
	out := make(map[models.SignalKey]models.Signal, len(s.Signals))
	for k, v := range s.Signals {
		out[k] = v
	}
	return out
}

// List returns the signals accepted by keep, ordered by symbol then timeframe.
// A nil keep returns everything.
func (c *SignalCache) List(keep func(models.Signal) bool) []models.Signal {
	return c.current.Load().List(keep)
}

// List filters one snapshot. Callers that also report the cycle id must read both from the
// same snapshot. A nil snapshot lists nothing.
func (s *Snapshot) List(keep func(models.Signal) bool) []models.Signal {
	if s == nil {
		return []models.Signal{}
	}
	out := make([]models.Signal, 0, len(s.Signals))
	for _, sig := range s.Signals {
		if keep == nil || keep(sig) {
			out = append(out, sig)
		}
	}
	SortSignals(out)
	return out
}

// LastSummary returns the summary of the last completed cycle.
func (c *SignalCache) LastSummary() (models.CycleSummary, bool) {
	s := c.current.Load()
	if s == nil {
		return models.CycleSummary{}, false
	}
	return s.Summary, true
}

// Freshness reports data age per symbol as of now.
func (c *SignalCache) Freshness() []models.Freshness {
	s := c.current.Load()
	if s == nil {
		return []models.Freshness{}
	}
	now := c.now()
	out := make([]models.Freshness, 0, len(s.Freshness))
	for _, f := range s.Freshness {
		if !f.LastFetchedAt.IsZero() {
			f.AgeSeconds = now.Sub(f.LastFetchedAt).Seconds()
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func SortSignals(sigs []models.Signal) {
	sort.Slice(sigs, func(i, j int) bool {
		if sigs[i].Symbol != sigs[j].Symbol {
			return sigs[i].Symbol < sigs[j].Symbol
		}
		return sigs[i].Timeframe < sigs[j].Timeframe
	})
}

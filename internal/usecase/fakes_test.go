package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/service/ratelimit"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeProvider serves a fixed price per id. Ids in hang block until the context ends.
type fakeProvider struct {
	mu      sync.Mutex
	prices  map[string]float64
	hang    map[string]bool
	fail    error
	calls   atomic.Int64
	history []models.PricePoint
	histErr error
}

func newFakeProvider(n int) *fakeProvider {
	p := &fakeProvider{prices: make(map[string]float64), hang: make(map[string]bool)}
	for i := 0; i < n; i++ {
		p.prices[fmt.Sprintf("coin-%d", i)] = float64(100 + i)
	}
	return p
}

func (p *fakeProvider) setHang(ids ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hang = make(map[string]bool, len(ids))
	for _, id := range ids {
		p.hang[id] = true
	}
}

func (p *fakeProvider) FetchQuotes(ctx context.Context, ids []string) (map[string]models.PriceSnapshot, error) {
	p.calls.Add(1)
	p.mu.Lock()
	fail := p.fail
	hang := false
	for _, id := range ids {
		hang = hang || p.hang[id]
	}
	p.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	if hang {
		<-ctx.Done()
		return nil, fmt.Errorf("fetch quotes: %w", ctx.Err())
	}
	out := make(map[string]models.PriceSnapshot, len(ids))
	for _, id := range ids {
		price, ok := p.prices[id]
		if !ok {
			continue
		}
		out[id] = models.PriceSnapshot{ProviderID: id, Price: price, Volume24h: 1000, FetchedAt: testNow}
	}
	return out, nil
}

func (p *fakeProvider) FetchHistory(ctx context.Context, id string, days int) ([]models.PricePoint, error) {
	if p.histErr != nil {
		return nil, p.histErr
	}
	return p.history, nil
}

func (p *fakeProvider) MaxBatchSize() int { return 250 }

type fakeLimiter struct {
	mu        sync.Mutex
	reject    error
	successes int
	failures  int
}

func (l *fakeLimiter) TryAcquire(cost int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reject
}

func (l *fakeLimiter) RecordOutcome(success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if success {
		l.successes++
	} else {
		l.failures++
	}
}

func (l *fakeLimiter) Stats() models.LimiterStats { return models.LimiterStats{} }

func openCircuit() error {
	return &ratelimit.Rejection{Reason: ratelimit.ErrCircuitOpen, Scope: ratelimit.ScopeBreaker, RetryAfter: time.Minute}
}

func trackedSymbols(n int) []models.TrackedSymbol {
	out := make([]models.TrackedSymbol, n)
	for i := range out {
		out[i] = models.TrackedSymbol{Symbol: fmt.Sprintf("C%d/USDT", i), ProviderID: fmt.Sprintf("coin-%d", i), Active: true}
	}
	return out
}

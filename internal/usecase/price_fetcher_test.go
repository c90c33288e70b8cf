package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/service/history"
	"SignalPulse/pkg/config"
	pkghttp "SignalPulse/pkg/http"
)

func newTestFetcher(p *fakeProvider, l *fakeLimiter, n, batch int) (*PriceFetcher, *history.Store) {
	store := history.NewStore(config.DefaultTimeframes())
	f := NewPriceFetcher(p, l, store, trackedSymbols(n),
		WithFetcherBatchSize(batch),
		WithFetcherWorkers(4),
		WithFetcherTimeout(30*time.Millisecond),
	)
	return f, store
}

func TestFetchAllSurvivesTimeouts(t *testing.T) {
	p := newFakeProvider(10)
	l := &fakeLimiter{}
	f, _ := newTestFetcher(p, l, 10, 1)

	first := f.FetchAll(context.Background())
	if len(first) != 10 {
		t.Fatalf("first fetch returned %d results", len(first))
	}

	p.setHang("coin-2", "coin-5", "coin-7")
	second := f.FetchAll(context.Background())

	if len(second) != 10 {
		t.Fatalf("results = %d, want 10", len(second))
	}
	stale := 0
	for sym, r := range second {
		if r.Snapshot == nil {
			t.Fatalf("%s has no snapshot", sym)
		}
		if r.Snapshot.Stale {
			stale++
			if r.Err == nil || r.Err.Kind != models.ErrKindTimeout {
				t.Fatalf("%s stale without timeout error: %+v", sym, r.Err)
			}
		}
	}
	if stale != 3 {
		t.Fatalf("stale = %d, want 3", stale)
	}
	if l.failures != 3 {
		t.Fatalf("limiter failures = %d, want 3", l.failures)
	}
}

func TestFetchAllRejectedBatchIsStale(t *testing.T) {
	p := newFakeProvider(4)
	l := &fakeLimiter{}
	f, _ := newTestFetcher(p, l, 4, 2)

	f.FetchAll(context.Background())
	calls := p.calls.Load()

	l.reject = openCircuit()
	res := f.FetchAll(context.Background())
	if p.calls.Load() != calls {
		t.Fatalf("provider called while circuit open")
	}
	for sym, r := range res {
		if r.Snapshot == nil || !r.Snapshot.Stale || r.Err.Kind != models.ErrKindCircuitOpen {
			t.Fatalf("%s = %+v", sym, r)
		}
		if r.Snapshot.Price <= 0 {
			t.Fatalf("%s lost its last price", sym)
		}
	}
}

func TestFetchAllWithoutPreviousData(t *testing.T) {
	p := newFakeProvider(3)
	p.fail = errors.New("boom")
	l := &fakeLimiter{}
	f, _ := newTestFetcher(p, l, 3, 50)

	res := f.FetchAll(context.Background())
	if len(res) != 3 {
		t.Fatalf("results = %d, want 3", len(res))
	}
	for sym, r := range res {
		if r.Snapshot != nil || r.Err == nil || r.Err.Kind != models.ErrKindProvider {
			t.Fatalf("%s = %+v", sym, r)
		}
	}
	if p.calls.Load() != 1 {
		t.Fatalf("three symbols in one batch should cost one call, got %d", p.calls.Load())
	}
}

func TestFetchAllMissingQuote(t *testing.T) {
	p := newFakeProvider(2)
	f, _ := newTestFetcher(p, &fakeLimiter{}, 3, 10)

	res := f.FetchAll(context.Background())
	if r := res["C2/USDT"]; r.Err == nil || r.Snapshot != nil {
		t.Fatalf("missing quote = %+v", r)
	}
	if r := res["C0/USDT"]; r.Err != nil || r.Snapshot == nil || r.Snapshot.Symbol != "C0/USDT" {
		t.Fatalf("fresh quote = %+v", r)
	}
}

func TestFetchAppendsHistoryAndSeeds(t *testing.T) {
	p := newFakeProvider(1)
	p.history = []models.PricePoint{
		{Time: testNow.Add(-3 * time.Hour), Price: 90, Volume: 10},
		{Time: testNow.Add(-2 * time.Hour), Price: 95, Volume: 10},
		{Time: testNow.Add(-1 * time.Hour), Price: 98, Volume: 10},
	}
	l := &fakeLimiter{}
	store := history.NewStore(config.DefaultTimeframes())
	f := NewPriceFetcher(p, l, store, trackedSymbols(1), WithHistoryDays(1))

	f.SeedHistory(context.Background())
	if !store.Seeded("C0/USDT") {
		t.Fatalf("symbol not seeded")
	}
	f.SeedHistory(context.Background())
	if l.successes != 1 {
		t.Fatalf("seeding should happen once, got %d requests", l.successes)
	}

	f.FetchAll(context.Background())
	bars := store.Bars("C0/USDT", "1h")
	if len(bars) != 4 || bars[len(bars)-1].Close != 100 {
		t.Fatalf("bars = %+v", bars)
	}
}

func TestSeedGivesUpOnPermanentRejection(t *testing.T) {
	p := newFakeProvider(1)
	p.histErr = fmt.Errorf("coingecko market_chart coin-0: %w", &pkghttp.StatusError{Code: 503})
	l := &fakeLimiter{}
	store := history.NewStore(config.DefaultTimeframes())
	f := NewPriceFetcher(p, l, store, trackedSymbols(1), WithHistoryDays(30))

	f.SeedHistory(context.Background())
	if store.Seeded("C0/USDT") {
		t.Fatalf("a 503 should be retried on the next cycle")
	}

	p.histErr = fmt.Errorf("coingecko market_chart coin-0: %w", &pkghttp.StatusError{Code: 404})
	f.SeedHistory(context.Background())
	if !store.Seeded("C0/USDT") {
		t.Fatalf("a 404 should stop further seeding attempts")
	}
	f.SeedHistory(context.Background())
	if l.failures != 2 {
		t.Fatalf("history requests = %d, want 2", l.failures)
	}
}

package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"SignalPulse/internal/domain/models"
)

func snapshotFor(cycle uint64, symbols []string, tfs []string) *Snapshot {
	s := &Snapshot{
		CycleID:   cycle,
		Signals:   make(map[models.SignalKey]models.Signal),
		Freshness: make(map[string]models.Freshness),
		Summary:   models.CycleSummary{ID: cycle},
	}
	for _, sym := range symbols {
		for _, tf := range tfs {
			sig := models.Signal{CycleID: cycle, Symbol: sym, Timeframe: tf, Direction: models.DirectionNeutral}
			s.Signals[sig.Key()] = sig
		}
	}
	return s
}

func TestGetBeforeFirstCycle(t *testing.T) {
	c := New()
	if _, err := c.Get("BTC/USDT", "1h"); !errors.Is(err, ErrNotYetComputed) {
		t.Fatalf("expected ErrNotYetComputed, got %v", err)
	}
	if c.Snapshot() != nil || len(c.GetAll()) != 0 || len(c.Freshness()) != 0 {
		t.Fatalf("empty cache should expose nothing")
	}
	if _, ok := c.LastSummary(); ok {
		t.Fatalf("no summary expected")
	}
}

func TestReplaceAllAndRead(t *testing.T) {
	c := New()
	c.ReplaceAll(snapshotFor(1, []string{"ETH/USDT", "BTC/USDT"}, []string{"4h", "1h"}))

	sig, err := c.Get("BTC/USDT", "1h")
	if err != nil || sig.CycleID != 1 {
		t.Fatalf("Get = %+v, %v", sig, err)
	}
	if _, err := c.Get("BTC/USDT", "1w"); !errors.Is(err, ErrNotYetComputed) {
		t.Fatalf("missing timeframe should be not yet computed, got %v", err)
	}

	all := c.GetAll()
	delete(all, models.SignalKey{Symbol: "BTC/USDT", Timeframe: "1h"})
	if _, err := c.Get("BTC/USDT", "1h"); err != nil {
		t.Fatalf("GetAll must return a copy")
	}

	list := c.List(func(s models.Signal) bool { return s.Timeframe == "1h" })
	if len(list) != 2 || list[0].Symbol != "BTC/USDT" || list[1].Symbol != "ETH/USDT" {
		t.Fatalf("List = %+v", list)
	}
	if got := c.List(nil); len(got) != 4 || got[0].Timeframe != "1h" || got[1].Timeframe != "4h" {
		t.Fatalf("List(nil) order = %+v", got)
	}
}

func TestFreshnessAge(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC)
	c := New(WithClock(func() time.Time { return now }))
	s := snapshotFor(2, nil, nil)
	s.Freshness["SOL/USDT"] = models.Freshness{Symbol: "SOL/USDT", LastFetchedAt: now.Add(-90 * time.Second), Stale: true, Available: true}
	s.Freshness["ADA/USDT"] = models.Freshness{Symbol: "ADA/USDT", Reason: models.ErrKindCircuitOpen}
	c.ReplaceAll(s)

	fr := c.Freshness()
	if len(fr) != 2 || fr[0].Symbol != "ADA/USDT" {
		t.Fatalf("freshness = %+v", fr)
	}
	if fr[0].AgeSeconds != 0 || fr[1].AgeSeconds != 90 || !fr[1].Stale {
		t.Fatalf("ages = %v, %v", fr[0].AgeSeconds, fr[1].AgeSeconds)
	}
}

func TestReadersNeverSeeMixedCycles(t *testing.T) {
	c := New()
	symbols := make([]string, 20)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%02d/USDT", i)
	}
	tfs := []string{"1h", "4h", "1d"}
	c.ReplaceAll(snapshotFor(1, symbols, tfs))

	var (
		wg    sync.WaitGroup
		stop  atomic.Bool
		mixed atomic.Int64
		reads atomic.Int64
	)
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				all := c.GetAll()
				var id uint64
				for _, sig := range all {
					if id == 0 {
						id = sig.CycleID
					} else if sig.CycleID != id {
						mixed.Add(1)
					}
				}
				reads.Add(1)
			}
		}()
	}
	for cycle := uint64(2); cycle <= 500; cycle++ {
		c.ReplaceAll(snapshotFor(cycle, symbols, tfs))
	}
	stop.Store(true)
	wg.Wait()

	if mixed.Load() != 0 {
		t.Fatalf("readers saw %d mixed maps over %d reads", mixed.Load(), reads.Load())
	}
	if s := c.Snapshot(); s.CycleID != 500 {
		t.Fatalf("last cycle = %d, want 500", s.CycleID)
	}
}

func TestSnapshotList(t *testing.T) {
	var empty *Snapshot
	if got := empty.List(nil); len(got) != 0 {
		t.Fatalf("nil snapshot listed %d signals", len(got))
	}
	s := snapshotFor(4, []string{"ETH/USDT", "BTC/USDT"}, []string{"4h", "1h"})
	got := s.List(func(sig models.Signal) bool { return sig.Timeframe == "1h" })
	if len(got) != 2 || got[0].Symbol != "BTC/USDT" || got[1].Symbol != "ETH/USDT" {
		t.Fatalf("List = %+v", got)
	}
}

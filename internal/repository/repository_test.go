package repository

import (
	"context"
	"testing"
	"time"

	"SignalPulse/internal/domain/models"
	"SignalPulse/pkg/cache"
)

func TestCacheQuotaStore(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	defer mc.Close()
	store := NewCacheQuotaStore(mc)

	used, err := store.Load(ctx, "2026-10")
	if err != nil || used != 0 {
		t.Fatalf("empty month = %d, %v", used, err)
	}
	for _, n := range []int64{1, 1, 3} {
		if err := store.Add(ctx, "2026-10", n); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if used, err = store.Load(ctx, "2026-10"); err != nil || used != 5 {
		t.Fatalf("Load = %d, %v; want 5", used, err)
	}
	if used, _ = store.Load(ctx, "2026-11"); used != 0 {
		t.Fatalf("next month should start empty, got %d", used)
	}
}

func TestSnapshotMirrorWritesSignalsAndMeta(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	defer mc.Close()
	sink := NewSnapshotMirror(mc, time.Minute)

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	result := &models.CycleResult{
		Summary: models.CycleSummary{ID: 7, Trigger: models.TriggerTimer},
		Signals: []models.Signal{
			{CycleID: 7, Symbol: "BTC/USDT", Timeframe: "1h", Direction: models.DirectionLong, Confidence: 71, Entry: 65000},
			{CycleID: 7, Symbol: "ETH/USDT", Timeframe: "4h", Direction: models.DirectionNeutral, Confidence: 50, Entry: 2500},
		},
		Freshness:   []models.Freshness{{Symbol: "BTC/USDT", LastFetchedAt: now, Available: true}},
		CompletedAt: now,
	}
	if err := sink.Publish(ctx, result); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var s models.Signal
	if err := mc.Get(ctx, SignalKey("BTC/USDT", "1h"), &s); err != nil {
		t.Fatalf("Get signal: %v", err)
	}
	if s.Direction != models.DirectionLong || s.Confidence != 71 || s.CycleID != 7 {
		t.Fatalf("mirrored signal = %+v", s)
	}

	var meta MirroredSnapshot
	if err := mc.Get(ctx, LatestSnapshotKey, &meta); err != nil {
		t.Fatalf("Get meta: %v", err)
	}
	if meta.CycleID != 7 || len(meta.Keys) != 2 || !meta.CompletedAt.Equal(now) {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestSignalKeyFlattensSlash(t *testing.T) {
	if got := SignalKey("BTC/USDT", "1h"); got != "signal:BTC-USDT:1h" {
		t.Fatalf("SignalKey = %q", got)
	}
}

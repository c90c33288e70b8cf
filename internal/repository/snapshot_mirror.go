package repository

import (
	"context"
	"fmt"
	"time"

	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/domain/repository"
	"SignalPulse/pkg/cache"
)

// LatestSnapshotKey holds the summary and freshness of the last mirrored cycle.
const LatestSnapshotKey = "snapshot:latest"

// MirroredSnapshot is the metadata document written next to the per-key signals.
type MirroredSnapshot struct {
	CycleID     uint64              `json:"cycle_id"`
	CompletedAt time.Time           `json:"completed_at"`
	Summary     models.CycleSummary `json:"summary"`
	Freshness   []models.Freshness  `json:"freshness"`
	Keys        []string            `json:"keys"`
}

// SnapshotMirror copies each swapped snapshot into the shared cache so sibling processes can
// serve reads without running cycles themselves.
type SnapshotMirror struct {
	cache cache.Service
	ttl   time.Duration
}

func NewSnapshotMirror(c cache.Service, ttl time.Duration) repository.SignalSink {
	return &SnapshotMirror{cache: c, ttl: ttl}
}

// SignalKey returns the cache key of one mirrored signal.
func SignalKey(symbol, timeframe string) string {
	return cache.GenerateKeyWithParams("signal", symbol, timeframe)
}

func (m *SnapshotMirror) Name() string { return "redis-mirror" }

func (m *SnapshotMirror) Publish(ctx context.Context, result *models.CycleResult) error {
	if result == nil {
		return nil
	}
	values := make(map[string]interface{}, len(result.Signals))
	keys := make([]string, 0, len(result.Signals))
	for _, s := range result.Signals {
		k := SignalKey(s.Symbol, s.Timeframe)
		values[k] = s
		keys = append(keys, k)
	}
	if len(values) > 0 {
		if err := m.cache.MSet(ctx, values, m.ttl); err != nil {
			return fmt.Errorf("mirror signals: %w", err)
		}
	}
	meta := MirroredSnapshot{
		CycleID:     result.Summary.ID,
		CompletedAt: result.CompletedAt,
		Summary:     result.Summary,
		Freshness:   result.Freshness,
		Keys:        keys,
	}
	// Written last so a reader that sees the new meta also finds every signal key.
	if err := m.cache.Set(ctx, LatestSnapshotKey, meta, m.ttl); err != nil {
		return fmt.Errorf("mirror meta: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"time"

	"SignalPulse/internal/domain/models"
)

// PriceProvider is the external market data API. Implementations must not retry on their own;
// every call is budgeted by the caller through a RequestLimiter.
type PriceProvider interface {
	// FetchQuotes returns snapshots keyed by provider id. Ids missing from the result were
	// absent or malformed in the response.
	FetchQuotes(ctx context.Context, ids []string) (map[string]models.PriceSnapshot, error)
	FetchHistory(ctx context.Context, id string, days int) ([]models.PricePoint, error)
	MaxBatchSize() int
}

type RequestLimiter interface {
	TryAcquire(cost int) error
	RecordOutcome(success bool)
	Stats() models.LimiterStats
}

// QuotaStore persists the monthly request counter across restarts.
type QuotaStore interface {
	Load(ctx context.Context, month string) (int64, error)
	Add(ctx context.Context, month string, n int64) error
}

// Locker is a best-effort distributed lease. Unlock releases the lease only while token
// still owns it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// SignalSink receives every completed cycle after the cache swap.
type SignalSink interface {
	Name() string
	Publish(ctx context.Context, result *models.CycleResult) error
}

type Metrics interface {
	RecordCycle(trigger, result string, seconds float64)
	RecordTickDropped()
	RecordTriggerCoalesced()
	RecordLimiterDecision(result, reason string)
	RecordBreakerState(state models.BreakerState)
	RecordMonthlyUsage(used, quota int64)
	RecordFetchError(kind string)
	RecordStaleSymbols(n int)
	RecordSignal(symbol, timeframe string, direction models.Direction, confidence int)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordSinkError(sink string)
}

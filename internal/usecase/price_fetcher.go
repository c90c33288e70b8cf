package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"SignalPulse/internal/domain/models"
	domrepo "SignalPulse/internal/domain/repository"
	"SignalPulse/internal/service/history"
	"SignalPulse/internal/service/ratelimit"
	pkghttp "SignalPulse/pkg/http"
	"SignalPulse/pkg/logger"
)

// FetchResult is the outcome for one symbol. Snapshot is nil only when the symbol
// has never been fetched successfully; Err is set whenever the snapshot is not fresh.
type FetchResult struct {
	Snapshot *models.PriceSnapshot
	Err      *models.CycleError
}

// PriceFetcher pulls quotes in batches through the rate limiter and keeps the last
// fresh snapshot per symbol so failures can fall back to stale data.
type PriceFetcher struct {
	provider      domrepo.PriceProvider
	limiter       domrepo.RequestLimiter
	history       *history.Store
	symbols       []models.TrackedSymbol
	batchSize     int
	workers       int
	symbolTimeout time.Duration
	historyDays   int
	metrics       domrepo.Metrics
	log           *logger.Logger

	mu   sync.Mutex
	last map[string]models.PriceSnapshot
}

type FetcherOption func(*PriceFetcher)

func WithFetcherBatchSize(n int) FetcherOption {
	return func(f *PriceFetcher) {
		if n > 0 {
			f.batchSize = n
		}
	}
}

func WithFetcherWorkers(n int) FetcherOption {
	return func(f *PriceFetcher) {
		if n > 0 {
			f.workers = n
		}
	}
}

func WithFetcherTimeout(d time.Duration) FetcherOption {
	return func(f *PriceFetcher) {
		if d > 0 {
			f.symbolTimeout = d
		}
	}
}

// WithHistoryDays sets how much chart history is requested when seeding. Zero disables seeding.
func WithHistoryDays(days int) FetcherOption {
	return func(f *PriceFetcher) { f.historyDays = days }
}

func WithFetcherMetrics(m domrepo.Metrics) FetcherOption {
	return func(f *PriceFetcher) { f.metrics = m }
}

func WithFetcherLogger(l *logger.Logger) FetcherOption {
	return func(f *PriceFetcher) { f.log = l }
}

func NewPriceFetcher(provider domrepo.PriceProvider, limiter domrepo.RequestLimiter, store *history.Store, symbols []models.TrackedSymbol, opts ...FetcherOption) *PriceFetcher {
	f := &PriceFetcher{
		provider:      provider,
		limiter:       limiter,
		history:       store,
		symbols:       symbols,
		batchSize:     50,
		workers:       4,
		symbolTimeout: 15 * time.Second,
		log:           logger.Nop(),
		last:          make(map[string]models.PriceSnapshot, len(symbols)),
	}
	for _, opt := range opts {
		opt(f)
	}
	if limit := provider.MaxBatchSize(); limit > 0 && f.batchSize > limit {
		f.batchSize = limit
	}
	f.log = f.log.Component("price-fetcher")
	return f
}

// Active returns the symbols taking part in cycles, in configuration order.
func (f *PriceFetcher) Active() []models.TrackedSymbol {
	out := make([]models.TrackedSymbol, 0, len(f.symbols))
	for _, s := range f.symbols {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

// SeedHistory loads chart history for symbols that have none yet. Each request goes
// through the limiter; a rejected or failed symbol is retried on the next cycle.
func (f *PriceFetcher) SeedHistory(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for _, s := range f.Active() {
		if f.history.Seeded(s.Symbol) {
			continue
		}
		if f.historyDays <= 0 {
			f.history.Seed(s.Symbol, nil)
			continue
		}
		s := s
		g.Go(func() error {
			f.seed(gctx, s)
			return nil
		})
	}
	_ = g.Wait()
}

func (f *PriceFetcher) seed(ctx context.Context, s models.TrackedSymbol) {
	if err := f.limiter.TryAcquire(1); err != nil {
		f.log.Debug("history seed deferred", logger.String("symbol", s.Symbol), logger.Error(err))
		return
	}
	sctx, cancel := context.WithTimeout(ctx, f.symbolTimeout)
	defer cancel()

	start := time.Now()
	points, err := f.provider.FetchHistory(sctx, s.ProviderID, f.historyDays)
	f.limiter.RecordOutcome(err == nil)
	f.observe("fetch_history", start)
	if err != nil {
		var se *pkghttp.StatusError
		if errors.As(err, &se) && !se.Retryable() {
			// The provider will keep refusing this id; build bars from live quotes only.
			f.history.Seed(s.Symbol, nil)
			f.log.Warn("history unavailable, seeding skipped", logger.String("symbol", s.Symbol), logger.Int("status", se.Code))
			return
		}
		f.log.Warn("history seed failed", logger.String("symbol", s.Symbol), logger.Error(err))
		return
	}
	f.history.Seed(s.Symbol, points)
	f.log.Debug("history seeded", logger.String("symbol", s.Symbol), logger.Int("points", len(points)))
}

// FetchAll returns exactly one result per active symbol.
func (f *PriceFetcher) FetchAll(ctx context.Context) map[string]FetchResult {
	active := f.Active()
	results := make(map[string]FetchResult, len(active))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for start := 0; start < len(active); start += f.batchSize {
		end := min(start+f.batchSize, len(active))
		batch := active[start:end]
		g.Go(func() error {
			out := f.fetchBatch(gctx, batch)
			mu.Lock()
			for k, v := range out {
				results[k] = v
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	stale := 0
	for _, r := range results {
		if r.Err != nil {
			stale++
			if f.metrics != nil {
				f.metrics.RecordFetchError(string(r.Err.Kind))
			}
		}
	}
	if f.metrics != nil {
		f.metrics.RecordStaleSymbols(stale)
	}
	return results
}

func (f *PriceFetcher) fetchBatch(ctx context.Context, batch []models.TrackedSymbol) map[string]FetchResult {
	out := make(map[string]FetchResult, len(batch))

	if err := f.limiter.TryAcquire(1); err != nil {
		kind := models.ErrKindQuotaExceeded
		if errors.Is(err, ratelimit.ErrCircuitOpen) {
			kind = models.ErrKindCircuitOpen
		}
		for _, s := range batch {
			out[s.Symbol] = f.fallback(s.Symbol, kind, err.Error())
		}
		return out
	}

	ids := make([]string, len(batch))
	for i, s := range batch {
		ids[i] = s.ProviderID
	}

	bctx, cancel := context.WithTimeout(ctx, f.symbolTimeout)
	defer cancel()
	start := time.Now()
	quotes, err := f.provider.FetchQuotes(bctx, ids)
	f.limiter.RecordOutcome(err == nil)
	f.observe("fetch_quotes", start)

	if err != nil {
		kind := models.ErrKindProvider
		if errors.Is(err, context.DeadlineExceeded) {
			kind = models.ErrKindTimeout
		}
		f.log.Warn("quote batch failed",
			logger.Int("symbols", len(batch)),
			logger.String("kind", string(kind)),
			logger.Error(err),
		)
		for _, s := range batch {
			out[s.Symbol] = f.fallback(s.Symbol, kind, err.Error())
		}
		return out
	}

	for _, s := range batch {
		q, ok := quotes[s.ProviderID]
		if !ok {
			out[s.Symbol] = f.fallback(s.Symbol, models.ErrKindProvider, fmt.Sprintf("no usable quote for %s", s.ProviderID))
			continue
		}
		q.Symbol = s.Symbol
		q.ProviderID = s.ProviderID
		q.Stale = false
		f.mu.Lock()
		f.last[s.Symbol] = q
		f.mu.Unlock()
		f.history.Append(q)
		if f.metrics != nil {
			f.metrics.RecordLastPrice(s.Symbol, q.Price)
		}
		snap := q
		out[s.Symbol] = FetchResult{Snapshot: &snap}
	}
	return out
}

// fallback returns the last fresh snapshot flagged stale, or no snapshot at all.
func (f *PriceFetcher) fallback(symbol string, kind models.ErrorKind, msg string) FetchResult {
	res := FetchResult{Err: &models.CycleError{Symbol: symbol, Kind: kind, Message: msg}}
	f.mu.Lock()
	prev, ok := f.last[symbol]
	f.mu.Unlock()
	if ok {
		snap := prev.AsStale()
		res.Snapshot = &snap
	}
	return res
}

func (f *PriceFetcher) observe(op string, start time.Time) {
	if f.metrics != nil {
		f.metrics.RecordLatency(op, time.Since(start).Seconds())
	}
}

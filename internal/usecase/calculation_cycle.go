package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"SignalPulse/internal/domain/models"
	domrepo "SignalPulse/internal/domain/repository"
	"SignalPulse/internal/domain/service"
	"SignalPulse/internal/service/cache"
	"SignalPulse/internal/service/history"
	"SignalPulse/pkg/config"
	"SignalPulse/pkg/logger"
)

// CycleRunner executes one full calculation cycle.
type CycleRunner interface {
	Run(ctx context.Context, trigger models.Trigger) models.CycleSummary
}

// CalculationCycle fetches prices, computes every (symbol, timeframe) signal and swaps the
// cache. It is the only writer of the signal cache.
type CalculationCycle struct {
	fetcher    *PriceFetcher
	history    *history.Store
	engine     service.IndicatorEngine
	generator  service.SignalGenerator
	cache      *cache.SignalCache
	sinks      []domrepo.SignalSink
	timeframes []config.TimeframeConfig

	workers       int
	cycleTimeout  time.Duration
	symbolTimeout time.Duration
	sinkTimeout   time.Duration

	metrics domrepo.Metrics
	log     *logger.Logger
	now     func() time.Time
	seq     atomic.Uint64
}

type CycleOption func(*CalculationCycle)

func WithCycleWorkers(n int) CycleOption {
	return func(c *CalculationCycle) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithCycleTimeouts sets the overall deadline, the per-computation bound and the per-sink bound.
func WithCycleTimeouts(cycle, symbol, sink time.Duration) CycleOption {
	return func(c *CalculationCycle) {
		if cycle > 0 {
			c.cycleTimeout = cycle
		}
		if symbol > 0 {
			c.symbolTimeout = symbol
		}
		if sink > 0 {
			c.sinkTimeout = sink
		}
	}
}

func WithSinks(sinks ...domrepo.SignalSink) CycleOption {
	return func(c *CalculationCycle) { c.sinks = append(c.sinks, sinks...) }
}

func WithCycleMetrics(m domrepo.Metrics) CycleOption {
	return func(c *CalculationCycle) { c.metrics = m }
}

func WithCycleLogger(l *logger.Logger) CycleOption {
	return func(c *CalculationCycle) { c.log = l }
}

func WithCycleClock(now func() time.Time) CycleOption {
	return func(c *CalculationCycle) { c.now = now }
}

func NewCalculationCycle(
	fetcher *PriceFetcher,
	store *history.Store,
	engine service.IndicatorEngine,
	generator service.SignalGenerator,
	signalCache *cache.SignalCache,
	timeframes []config.TimeframeConfig,
	opts ...CycleOption,
) *CalculationCycle {
	c := &CalculationCycle{
		fetcher:       fetcher,
		history:       store,
		engine:        engine,
		generator:     generator,
		cache:         signalCache,
		timeframes:    timeframes,
		workers:       4,
		cycleTimeout:  3 * time.Minute,
		symbolTimeout: 15 * time.Second,
		sinkTimeout:   10 * time.Second,
		log:           logger.Nop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Component("cycle")
	if s := signalCache.Snapshot(); s != nil {
		c.seq.Store(s.CycleID)
	}
	return c
}

type computeTask struct {
	symbol string
	tf     config.TimeframeConfig
	snap   *models.PriceSnapshot
}

type computeOutcome struct {
	key    models.SignalKey
	signal models.Signal
	err    *models.CycleError
}

// Run never returns an error: every failure is folded into the summary and degrades the
// affected keys to their previous signal marked stale.
func (c *CalculationCycle) Run(ctx context.Context, trigger models.Trigger) models.CycleSummary {
	id := c.seq.Add(1)
	summary := models.CycleSummary{ID: id, Trigger: trigger, StartedAt: c.now().UTC()}
	log := c.log.With(logger.Uint64("cycle_id", id), logger.String("trigger", string(trigger)))
	log.Info("cycle started")

	cctx, cancel := context.WithTimeout(ctx, c.cycleTimeout)
	defer cancel()

	// Live quotes take the window budget first; seeding only uses what is left.
	fetched := c.fetcher.FetchAll(cctx)
	c.fetcher.SeedHistory(cctx)
	active := c.fetcher.Active()

	tasks := make([]computeTask, 0, len(active)*len(c.timeframes))
	var unavailable []models.SignalKey
	for _, s := range active {
		res := fetched[s.Symbol]
		if res.Err != nil {
			summary.Errors = append(summary.Errors, *res.Err)
			summary.SymbolsStale++
		}
		for _, tf := range c.timeframes {
			if res.Snapshot == nil {
				unavailable = append(unavailable, models.SignalKey{Symbol: s.Symbol, Timeframe: tf.Name})
				continue
			}
			tasks = append(tasks, computeTask{symbol: s.Symbol, tf: tf, snap: res.Snapshot})
		}
	}
	summary.SymbolsProcessed = len(active)

	outcomes := c.computeAll(cctx, id, tasks)

	prev := c.cache.Snapshot()
	signals := make(map[models.SignalKey]models.Signal, len(outcomes)+len(unavailable))
	carry := func(key models.SignalKey) {
		if prev == nil {
			return
		}
		if old, ok := prev.Signals[key]; ok {
			signals[key] = old.CarriedOver(id)
		}
	}
	for _, key := range unavailable {
		carry(key)
	}
	for _, o := range outcomes {
		if o.err == nil {
			signals[o.key] = o.signal
			summary.SignalsGenerated++
			continue
		}
		summary.Errors = append(summary.Errors, *o.err)
		carry(o.key)
	}
	sortErrors(summary.Errors)

	freshness := make(map[string]models.Freshness, len(active))
	for _, s := range active {
		res := fetched[s.Symbol]
		f := models.Freshness{Symbol: s.Symbol}
		if res.Snapshot != nil {
			f.LastFetchedAt = res.Snapshot.FetchedAt
			f.Stale = res.Snapshot.Stale
			f.Available = true
		} else {
			f.Stale = true
		}
		if res.Err != nil {
			f.Reason = res.Err.Kind
		}
		freshness[s.Symbol] = f
	}

	summary.FinishedAt = c.now().UTC()
	summary.Failed = len(active) > 0 && summary.SignalsGenerated == 0
	snap := &cache.Snapshot{
		CycleID:     id,
		CompletedAt: summary.FinishedAt,
		Summary:     summary,
		Signals:     signals,
		Freshness:   freshness,
	}
	c.cache.ReplaceAll(snap)

	result := "ok"
	switch {
	case summary.Failed:
		result = "failed"
	case len(summary.Errors) > 0:
		result = "degraded"
	}
	if c.metrics != nil {
		c.metrics.RecordCycle(string(trigger), result, summary.Duration().Seconds())
		for _, o := range outcomes {
			if o.err == nil {
				c.metrics.RecordSignal(o.signal.Symbol, o.signal.Timeframe, o.signal.Direction, o.signal.Confidence)
			}
		}
	}

	c.publish(ctx, snap)

	log.Info("cycle finished",
		logger.String("result", result),
		logger.Int("symbols", summary.SymbolsProcessed),
		logger.Int("stale", summary.SymbolsStale),
		logger.Int("signals", summary.SignalsGenerated),
		logger.Int("errors", len(summary.Errors)),
		logger.Duration("duration", summary.Duration()),
	)
	return summary
}

func (c *CalculationCycle) computeAll(ctx context.Context, id uint64, tasks []computeTask) []computeOutcome {
	out := make([]computeOutcome, 0, len(tasks))
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(c.workers)
	for _, t := range tasks {
		g.Go(func() error {
			o := c.computeBounded(ctx, id, t)
			mu.Lock()
			out = append(out, o)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// computeBounded runs one computation under the per-symbol deadline. A computation that
// overruns is abandoned; its result is discarded when it eventually finishes.
func (c *CalculationCycle) computeBounded(ctx context.Context, id uint64, t computeTask) computeOutcome {
	key := models.SignalKey{Symbol: t.symbol, Timeframe: t.tf.Name}
	fail := func(kind models.ErrorKind, msg string) computeOutcome {
		return computeOutcome{key: key, err: &models.CycleError{Symbol: t.symbol, Timeframe: t.tf.Name, Kind: kind, Message: msg}}
	}
	sctx, cancel := context.WithTimeout(ctx, c.symbolTimeout)
	defer cancel()

	done := make(chan computeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("computation panicked",
					logger.String("symbol", t.symbol),
					logger.String("timeframe", t.tf.Name),
					logger.Any("panic", r),
				)
				done <- fail(models.ErrKindPanic, fmt.Sprint(r))
			}
		}()
		start := time.Now()
		bars := c.history.Bars(t.symbol, t.tf.Name)
		set := c.engine.Compute(t.tf, *t.snap, bars)
		sig := c.generator.Generate(set, t.tf, id)
		if c.metrics != nil {
			c.metrics.RecordLatency("compute", time.Since(start).Seconds())
		}
		done <- computeOutcome{key: key, signal: sig}
	}()

	select {
	case o := <-done:
		return o
	case <-sctx.Done():
		return fail(models.ErrKindTimeout, sctx.Err().Error())
	}
}

// publish hands the swapped snapshot to every sink in order. Sink failures are logged only.
func (c *CalculationCycle) publish(ctx context.Context, snap *cache.Snapshot) {
	if len(c.sinks) == 0 {
		return
	}
	result := &models.CycleResult{
		Summary:     snap.Summary,
		Signals:     make([]models.Signal, 0, len(snap.Signals)),
		Freshness:   make([]models.Freshness, 0, len(snap.Freshness)),
		CompletedAt: snap.CompletedAt,
	}
	for _, s := range snap.Signals {
		result.Signals = append(result.Signals, s)
	}
	cache.SortSignals(result.Signals)
	for _, f := range snap.Freshness {
		result.Freshness = append(result.Freshness, f)
	}
	sort.Slice(result.Freshness, func(i, j int) bool { return result.Freshness[i].Symbol < result.Freshness[j].Symbol })

	for _, sink := range c.sinks {
		sctx, cancel := context.WithTimeout(ctx, c.sinkTimeout)
		err := sink.Publish(sctx, result)
		cancel()
		if err != nil {
			c.log.Warn("sink publish failed",
				logger.String("sink", sink.Name()),
				logger.Uint64("cycle_id", snap.CycleID),
				logger.Error(err),
			)
			if c.metrics != nil {
				c.metrics.RecordSinkError(sink.Name())
			}
		}
	}
}

func sortErrors(errs []models.CycleError) {
	sort.SliceStable(errs, func(i, j int) bool {
		a, b := errs[i], errs[j]
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.Timeframe != b.Timeframe {
			return a.Timeframe < b.Timeframe
		}
		return a.Kind < b.Kind
	})
}

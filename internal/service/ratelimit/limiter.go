package ratelimit

import (
	"context"
	"sync"
	"time"

	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/domain/repository"
	"SignalPulse/pkg/logger"
)

type stamp struct {
	at   time.Time
	cost int
}

// Limiter budgets calls to the price provider: a sliding per-window ceiling, a monthly quota
// and a circuit breaker. All state is guarded by mu; the limiter is the single owner.
type Limiter struct {
	mu sync.Mutex

	window  time.Duration
	ceiling int
	log     []stamp
	inUse   int

	quota   int64
	month   string
	used    int64
	breaker *breaker

	attempts  int64
	allowed   int64
	rejected  map[string]int64
	successes int64
	failures  int64

	now     func() time.Time
	store   repository.QuotaStore
	metrics repository.Metrics
	logger  *logger.Logger
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option { return func(l *Limiter) { l.now = now } }

func WithQuotaStore(s repository.QuotaStore) Option { return func(l *Limiter) { l.store = s } }

func WithMetrics(m repository.Metrics) Option { return func(l *Limiter) { l.metrics = m } }

func WithLogger(lg *logger.Logger) Option { return func(l *Limiter) { l.logger = lg } }

// WithStateChange registers a hook called on every breaker transition.
// It runs under the limiter lock and must not call back into the Limiter.
func WithStateChange(fn func(from, to models.BreakerState)) Option {
	return func(l *Limiter) {
		prev := l.breaker.onStateChange
		l.breaker.onStateChange = func(from, to models.BreakerState) {
			if prev != nil {
				prev(from, to)
			}
			fn(from, to)
		}
	}
}

// Config holds the limiter thresholds.
type Config struct {
	Window            time.Duration
	PerWindow         int
	MonthlyQuota      int64
	FailureThreshold  int
	Cooldown          time.Duration
	HalfOpenSuccesses int
}

func New(cfg Config, opts ...Option) *Limiter {
	if cfg.PerWindow < 1 {
		cfg.PerWindow = 1
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.HalfOpenSuccesses < 1 {
		cfg.HalfOpenSuccesses = 1
	}
	l := &Limiter{
		window:   cfg.Window,
		ceiling:  cfg.PerWindow,
		quota:    cfg.MonthlyQuota,
		breaker:  newBreaker(cfg.FailureThreshold, cfg.Cooldown, cfg.HalfOpenSuccesses),
		rejected: make(map[string]int64),
		now:      time.Now,
		logger:   logger.Nop(),
	}
	l.breaker.onStateChange = l.logTransition
	for _, opt := range opts {
		opt(l)
	}
	l.month = monthKey(l.now())
	return l
}

func (l *Limiter) logTransition(from, to models.BreakerState) {
	fields := []logger.Field{
		logger.String("from", from.String()),
		logger.String("to", to.String()),
		logger.Int("consecutive_failures", l.breaker.failures),
	}
	if to == models.BreakerOpen {
		fields = append(fields, logger.Time("recovery_at", l.breaker.recoveryAt))
		l.logger.Warn("circuit breaker opened", fields...)
	} else {
		l.logger.Info("circuit breaker state change", fields...)
	}
	if l.metrics != nil {
		l.metrics.RecordBreakerState(to)
	}
}

// Restore seeds the monthly counter, typically from the QuotaStore at startup.
// Values for a month other than the current one are ignored.
func (l *Limiter) Restore(month string, used int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.rollover(now)
	if month != l.month || used <= l.used {
		return
	}
	l.used = used
	if l.used >= l.quota {
		l.breaker.trip(now, nextMonth(now))
	}
}

// LoadUsage reads the current month's usage from the store and restores it.
func (l *Limiter) LoadUsage(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	month := monthKey(l.now())
	used, err := l.store.Load(ctx, month)
	if err != nil {
		return err
	}
	l.Restore(month, used)
	return nil
}

// TryAcquire reserves cost units of budget. It returns nil when the request may be sent and a
// *Rejection otherwise. A rejected request must not reach the network.
func (l *Limiter) TryAcquire(cost int) error {
	if cost < 1 {
		cost = 1
	}
	l.mu.Lock()
	now := l.now()
	l.attempts++
	l.rollover(now)
	l.evict(now)

	rej := l.evaluate(now, cost)
	if rej != nil {
		l.rejected[rej.Key()]++
		l.mu.Unlock()
		if l.metrics != nil {
			l.metrics.RecordLimiterDecision("rejected", rej.Key())
		}
		return rej
	}

	l.breaker.admit()
	l.log = append(l.log, stamp{at: now, cost: cost})
	l.inUse += cost
	l.used += int64(cost)
	l.allowed++
	month, used, quota := l.month, l.used, l.quota
	if l.used >= l.quota {
		// Trip before the quota can be exceeded; recovery is the next calendar month.
		l.breaker.trip(now, nextMonth(now))
	}
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.RecordLimiterDecision("allowed", "")
		l.metrics.RecordMonthlyUsage(used, quota)
	}
	if l.store != nil {
		go l.persist(month, int64(cost))
	}
	return nil
}

func (l *Limiter) evaluate(now time.Time, cost int) *Rejection {
	if wait, ok := l.breaker.check(now); !ok {
		return &Rejection{Reason: ErrCircuitOpen, Scope: ScopeBreaker, RetryAfter: wait}
	}
	if l.inUse+cost > l.ceiling {
		var wait time.Duration
		if len(l.log) > 0 {
			wait = l.log[0].at.Add(l.window).Sub(now)
		}
		return &Rejection{Reason: ErrQuotaExceeded, Scope: ScopeWindow, RetryAfter: wait}
	}
	if l.used+int64(cost) > l.quota {
		if l.used >= l.quota {
			l.breaker.trip(now, nextMonth(now))
		}
		return &Rejection{Reason: ErrQuotaExceeded, Scope: ScopeMonthly, RetryAfter: nextMonth(now).Sub(now)}
	}
	return nil
}

// RecordOutcome feeds the result of an allowed request back into the breaker.
func (l *Limiter) RecordOutcome(success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if success {
		l.successes++
		l.breaker.onSuccess()
		return
	}
	l.failures++
	l.breaker.onFailure(l.now())
}

// Stats returns a copy of the current state.
func (l *Limiter) Stats() models.LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.rollover(now)
	l.evict(now)
	// Reading the state must not advance OPEN to HALF_OPEN; that only happens on acquire.
	windowStart := now
	if len(l.log) > 0 {
		windowStart = l.log[0].at
	}
	rejected := make(map[string]int64, len(l.rejected))
	for k, v := range l.rejected {
		rejected[k] = v
	}
	return models.LimiterStats{
		WindowStart:          windowStart,
		WindowRequests:       l.inUse,
		WindowCeiling:        l.ceiling,
		Month:                l.month,
		MonthlyUsed:          l.used,
		MonthlyQuota:         l.quota,
		State:                l.breaker.state,
		TrippedAt:            l.breaker.trippedAt,
		RecoveryAt:           l.breaker.recoveryAt,
		ConsecutiveFailures:  l.breaker.failures,
		ConsecutiveSuccesses: l.breaker.successes,
		Attempts:             l.attempts,
		Allowed:              l.allowed,
		Rejected:             rejected,
		Successes:            l.successes,
		Failures:             l.failures,
	}
}

func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.log) && !l.log[i].at.After(cutoff) {
		l.inUse -= l.log[i].cost
		i++
	}
	if i > 0 {
		l.log = append(l.log[:0], l.log[i:]...)
	}
}

func (l *Limiter) rollover(now time.Time) {
	m := monthKey(now)
	if m == l.month {
		return
	}
	l.logger.Info("monthly quota rollover", logger.String("from", l.month), logger.String("to", m),
		logger.Int64("used", l.used))
	l.month = m
	l.used = 0
}

func (l *Limiter) persist(month string, n int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.store.Add(ctx, month, n); err != nil {
		l.logger.Warn("persist quota usage failed", logger.String("month", month), logger.Error(err))
	}
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func nextMonth(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

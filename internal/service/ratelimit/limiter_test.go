package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"SignalPulse/internal/domain/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
}

func testConfig() Config {
	return Config{
		Window:            time.Minute,
		PerWindow:         5,
		MonthlyQuota:      1000,
		FailureThreshold:  3,
		Cooldown:          10 * time.Second,
		HalfOpenSuccesses: 2,
	}
}

func TestTryAcquireCeiling(t *testing.T) {
	clk := newClock()
	l := New(testConfig(), WithClock(clk.Now))

	allowed, rejected := 0, 0
	for i := 0; i < 7; i++ {
		err := l.TryAcquire(1)
		if err == nil {
			allowed++
			continue
		}
		if !errors.Is(err, ErrQuotaExceeded) {
			t.Fatalf("call %d: expected ErrQuotaExceeded, got %v", i, err)
		}
		var rej *Rejection
		if !errors.As(err, &rej) || rej.Scope != ScopeWindow {
			t.Fatalf("call %d: expected window rejection, got %v", i, err)
		}
		rejected++
	}
	if allowed != 5 || rejected != 2 {
		t.Fatalf("allowed=%d rejected=%d, want 5 and 2", allowed, rejected)
	}

	st := l.Stats()
	if st.Attempts != 7 || st.Allowed != 5 || st.Rejected["quota_window"] != 2 {
		t.Fatalf("stats did not count every attempt: %+v", st)
	}
	if st.WindowRequests != 5 || st.State != models.BreakerClosed {
		t.Fatalf("window ceiling should not trip the breaker: %+v", st)
	}
}

func TestWindowSlides(t *testing.T) {
	clk := newClock()
	l := New(testConfig(), WithClock(clk.Now))
	for i := 0; i < 5; i++ {
		if err := l.TryAcquire(1); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		clk.Advance(10 * time.Second)
	}
	// Oldest stamp is 50s old; 10 more seconds evicts it.
	if err := l.TryAcquire(1); err == nil {
		t.Fatalf("expected rejection while window is full")
	}
	clk.Advance(10 * time.Second)
	if err := l.TryAcquire(1); err != nil {
		t.Fatalf("expected acquire after oldest stamp expired: %v", err)
	}
}

func TestCostLargerThanCeiling(t *testing.T) {
	l := New(testConfig(), WithClock(newClock().Now))
	if err := l.TryAcquire(6); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota rejection for oversized cost, got %v", err)
	}
	if err := l.TryAcquire(5); err != nil {
		t.Fatalf("cost equal to ceiling should pass: %v", err)
	}
}

func TestMonthlyUsageCountsCost(t *testing.T) {
	clk := newClock()
	l := New(testConfig(), WithClock(clk.Now))

	if err := l.TryAcquire(3); err != nil {
		t.Fatalf("acquire 3: %v", err)
	}
	if err := l.TryAcquire(2); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	st := l.Stats()
	if st.MonthlyUsed != 5 || st.WindowRequests != 5 {
		t.Fatalf("usage should add the full cost: used=%d window=%d", st.MonthlyUsed, st.WindowRequests)
	}
}

func TestConservationRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 20; run++ {
		clk := newClock()
		cfg := testConfig()
		cfg.PerWindow = 1 + rng.Intn(8)
		cfg.MonthlyQuota = 1 << 40
		l := New(cfg, WithClock(clk.Now))

		var stamps []time.Time
		for i := 0; i < 500; i++ {
			clk.Advance(time.Duration(rng.Intn(15000)) * time.Millisecond)
			if l.TryAcquire(1) == nil {
				stamps = append(stamps, clk.Now())
				l.RecordOutcome(true)
			}
		}
		for i, end := range stamps {
			n := 0
			for j := i; j >= 0 && end.Sub(stamps[j]) < cfg.Window; j-- {
				n++
			}
			if n > cfg.PerWindow {
				t.Fatalf("run %d: %d allowed within one window ending %s, ceiling %d", run, n, end, cfg.PerWindow)
			}
		}
	}
}

func TestMonthlyQuotaTripsBreaker(t *testing.T) {
	clk := newClock()
	cfg := testConfig()
	cfg.PerWindow = 100
	cfg.MonthlyQuota = 3
	l := New(cfg, WithClock(clk.Now))

	for i := 0; i < 3; i++ {
		if err := l.TryAcquire(1); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		l.RecordOutcome(true)
	}
	st := l.Stats()
	if st.State != models.BreakerOpen || st.MonthlyUsed != 3 {
		t.Fatalf("breaker should open when the quota is used up: %+v", st)
	}
	if err := l.TryAcquire(1); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	clk.t = time.Date(2026, 11, 1, 0, 0, 1, 0, time.UTC)
	if err := l.TryAcquire(1); err != nil {
		t.Fatalf("expected trial call after month rollover: %v", err)
	}
	st = l.Stats()
	if st.Month != "2026-11" || st.MonthlyUsed != 1 || st.State != models.BreakerHalfOpen {
		t.Fatalf("unexpected state after rollover: %+v", st)
	}
}

func TestBreakerRecovery(t *testing.T) {
	clk := newClock()
	var transitions []string
	l := New(testConfig(), WithClock(clk.Now), WithStateChange(func(from, to models.BreakerState) {
		transitions = append(transitions, from.String()+">"+to.String())
	}))

	for i := 0; i < 3; i++ {
		if err := l.TryAcquire(1); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		l.RecordOutcome(false)
	}
	if st := l.Stats(); st.State != models.BreakerOpen {
		t.Fatalf("expected OPEN after 3 failures, got %s", st.State)
	}
	if err := l.TryAcquire(1); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen during cooldown, got %v", err)
	}

	clk.Advance(10 * time.Second)
	for i := 0; i < 2; i++ {
		if err := l.TryAcquire(1); err != nil {
			t.Fatalf("trial call %d: %v", i, err)
		}
		l.RecordOutcome(true)
	}
	if st := l.Stats(); st.State != models.BreakerClosed || st.ConsecutiveFailures != 0 {
		t.Fatalf("expected CLOSED after 2 successful trial calls, got %+v", st)
	}
	want := []string{"CLOSED>OPEN", "OPEN>HALF_OPEN", "HALF_OPEN>CLOSED"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clk := newClock()
	l := New(testConfig(), WithClock(clk.Now))
	for i := 0; i < 3; i++ {
		_ = l.TryAcquire(1)
		l.RecordOutcome(false)
	}
	clk.Advance(11 * time.Second)
	if err := l.TryAcquire(1); err != nil {
		t.Fatalf("trial call: %v", err)
	}
	l.RecordOutcome(false)
	st := l.Stats()
	if st.State != models.BreakerOpen {
		t.Fatalf("expected OPEN after failed trial call, got %s", st.State)
	}
	if !st.RecoveryAt.Equal(clk.Now().Add(10 * time.Second)) {
		t.Fatalf("recovery_at = %s, want cooldown from now", st.RecoveryAt)
	}
}

func TestHalfOpenLimitsTrialCalls(t *testing.T) {
	clk := newClock()
	cfg := testConfig()
	cfg.HalfOpenSuccesses = 1
	l := New(cfg, WithClock(clk.Now))
	for i := 0; i < 3; i++ {
		_ = l.TryAcquire(1)
		l.RecordOutcome(false)
	}
	clk.Advance(10 * time.Second)
	if err := l.TryAcquire(1); err != nil {
		t.Fatalf("first trial call: %v", err)
	}
	if err := l.TryAcquire(1); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second concurrent trial call should be rejected, got %v", err)
	}
}

type memStore struct {
	mu   sync.Mutex
	data map[string]int64
	adds chan int64
}

func (s *memStore) Load(_ context.Context, month string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[month], nil
}

func (s *memStore) Add(_ context.Context, month string, n int64) error {
	s.mu.Lock()
	s.data[month] += n
	s.mu.Unlock()
	s.adds <- n
	return nil
}

func TestQuotaStoreRestoreAndPersist(t *testing.T) {
	clk := newClock()
	store := &memStore{data: map[string]int64{"2026-10": 998}, adds: make(chan int64, 4)}
	cfg := testConfig()
	l := New(cfg, WithClock(clk.Now), WithQuotaStore(store))
	if err := l.LoadUsage(context.Background()); err != nil {
		t.Fatalf("LoadUsage: %v", err)
	}
	if err := l.TryAcquire(1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	select {
	case n := <-store.adds:
		if n != 1 {
			t.Fatalf("persisted %d, want 1", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("usage was not persisted")
	}
	if err := l.TryAcquire(1); err != nil {
		t.Fatalf("last unit of quota: %v", err)
	}
	if st := l.Stats(); st.MonthlyUsed != 1000 || st.State != models.BreakerOpen {
		t.Fatalf("unexpected stats: %+v", st)
	}

	// Stale months are ignored.
	l.Restore("2026-09", 5000)
	if st := l.Stats(); st.MonthlyUsed != 1000 {
		t.Fatalf("restore of another month changed usage: %d", st.MonthlyUsed)
	}
}

func TestConcurrentAcquireNeverExceedsCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.PerWindow = 10
	cfg.Window = time.Hour
	l := New(cfg)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire(1) == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 10 {
		t.Fatalf("allowed = %d, want 10", allowed)
	}
}

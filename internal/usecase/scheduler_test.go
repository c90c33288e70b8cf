package usecase

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"SignalPulse/internal/domain/models"
	"SignalPulse/pkg/cache"
	"SignalPulse/pkg/metrics"
)

type schedulerMetrics struct {
	metrics.Noop
	dropped   atomic.Int64
	coalesced atomic.Int64
}

func (m *schedulerMetrics) RecordTickDropped()      { m.dropped.Add(1) }
func (m *schedulerMetrics) RecordTriggerCoalesced() { m.coalesced.Add(1) }

type countingRunner struct {
	ids     atomic.Uint64
	active  atomic.Int64
	maxSeen atomic.Int64
	runs    atomic.Int64
	hold    chan struct{}
	entered chan struct{}
	delay   func() time.Duration
}

func (r *countingRunner) Run(ctx context.Context, trigger models.Trigger) models.CycleSummary {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		m := r.maxSeen.Load()
		if n <= m || r.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	r.runs.Add(1)
	if r.entered != nil {
		r.entered <- struct{}{}
	}
	if r.hold != nil {
		<-r.hold
	}
	if r.delay != nil {
		time.Sleep(r.delay())
	}
	return models.CycleSummary{ID: r.ids.Add(1), Trigger: trigger}
}

func TestTriggerCoalescesOntoRunningCycle(t *testing.T) {
	r := &countingRunner{hold: make(chan struct{}), entered: make(chan struct{}, 1)}
	m := &schedulerMetrics{}
	s := NewScheduler(r, time.Hour, WithSchedulerMetrics(m))

	type outcome struct {
		res TriggerResult
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := s.TriggerImmediateCycle(context.Background())
		first <- outcome{res, err}
	}()
	<-r.entered
	if s.State() != StateRunning {
		t.Fatalf("state = %s, want RUNNING", s.State())
	}

	s.Tick()

	second := make(chan outcome, 1)
	go func() {
		res, err := s.TriggerImmediateCycle(context.Background())
		second <- outcome{res, err}
	}()
	for deadline := time.Now().Add(2 * time.Second); m.coalesced.Load() == 0; {
		if time.Now().After(deadline) {
			t.Fatalf("second trigger never joined the cycle")
		}
		time.Sleep(time.Millisecond)
	}
	close(r.hold)

	a, b := <-first, <-second
	if a.err != nil || b.err != nil {
		t.Fatalf("errors: %v, %v", a.err, b.err)
	}
	if a.res.Coalesced || !b.res.Coalesced {
		t.Fatalf("coalesced flags = %v, %v", a.res.Coalesced, b.res.Coalesced)
	}
	if a.res.Summary.ID != b.res.Summary.ID {
		t.Fatalf("coalesced trigger got summary %d, want %d", b.res.Summary.ID, a.res.Summary.ID)
	}
	if r.runs.Load() != 1 || m.dropped.Load() != 1 {
		t.Fatalf("runs = %d dropped = %d, want 1 and 1", r.runs.Load(), m.dropped.Load())
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %s, want IDLE", s.State())
	}
}

func TestTriggerCallerCancellationDoesNotStopCycle(t *testing.T) {
	r := &countingRunner{hold: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := NewScheduler(r, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := s.TriggerImmediateCycle(ctx)
		errc <- err
	}()
	<-r.entered
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.State() != StateRunning {
		t.Fatalf("cycle should keep running after the caller left")
	}
	close(r.hold)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if r.ids.Load() != 1 {
		t.Fatalf("cycle did not complete")
	}
}

func TestSingleFlightUnderRandomInterleaving(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var rngMu sync.Mutex
	r := &countingRunner{delay: func() time.Duration {
		rngMu.Lock()
		defer rngMu.Unlock()
		return time.Duration(rng.Intn(3000)) * time.Microsecond
	}}
	s := NewScheduler(r, time.Hour)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			local := rand.New(rand.NewSource(seed))
			for i := 0; i < 25; i++ {
				if local.Intn(2) == 0 {
					s.Tick()
				} else if _, err := s.TriggerImmediateCycle(context.Background()); err != nil {
					t.Errorf("trigger: %v", err)
				}
				time.Sleep(time.Duration(local.Intn(500)) * time.Microsecond)
			}
		}(int64(g))
	}
	wg.Wait()

	if m := r.maxSeen.Load(); m != 1 {
		t.Fatalf("max concurrent cycles = %d, want 1", m)
	}
	if r.runs.Load() == 0 {
		t.Fatalf("no cycle ran")
	}
}

func TestLeaseHeldElsewhere(t *testing.T) {
	lock := cache.NewMemoryCache()
	defer lock.Close()
	ctx := context.Background()
	token, ok, _ := lock.TryLock(ctx, "cycle", time.Minute)
	if !ok {
		t.Fatalf("could not take lease")
	}

	r := &countingRunner{}
	s := NewScheduler(r, time.Hour, WithLease(lock, "cycle", time.Minute))

	if _, err := s.TriggerImmediateCycle(ctx); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld, got %v", err)
	}
	s.Tick()
	if r.runs.Load() != 0 {
		t.Fatalf("runner called while lease held")
	}

	_ = lock.Unlock(ctx, "cycle", token)
	res, err := s.TriggerImmediateCycle(ctx)
	if err != nil || res.Summary.ID != 1 {
		t.Fatalf("trigger after release = %+v, %v", res, err)
	}
	if _, ok, _ := lock.TryLock(ctx, "cycle", time.Minute); !ok {
		t.Fatalf("lease not released after the cycle")
	}
}

func TestExpiredLeaseIsNotReleasedByFormerHolder(t *testing.T) {
	lock := cache.NewMemoryCache()
	defer lock.Close()
	ctx := context.Background()

	slow := &countingRunner{hold: make(chan struct{}), entered: make(chan struct{}, 1)}
	a := NewScheduler(slow, time.Hour, WithLease(lock, "cycle", 50*time.Millisecond))
	aDone := make(chan error, 1)
	go func() {
		_, err := a.TriggerImmediateCycle(ctx)
		aDone <- err
	}()
	<-slow.entered
	time.Sleep(80 * time.Millisecond)

	// B takes over the expired lease and is still inside its cycle.
	bRunner := &countingRunner{hold: make(chan struct{}), entered: make(chan struct{}, 1)}
	b := NewScheduler(bRunner, time.Hour, WithLease(lock, "cycle", time.Minute))
	bDone := make(chan error, 1)
	go func() {
		_, err := b.TriggerImmediateCycle(ctx)
		bDone <- err
	}()
	<-bRunner.entered

	close(slow.hold)
	if err := <-aDone; err != nil {
		t.Fatalf("A: %v", err)
	}

	c := NewScheduler(&countingRunner{}, time.Hour, WithLease(lock, "cycle", time.Minute))
	if _, err := c.TriggerImmediateCycle(ctx); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("C ran while B held the lease: err=%v", err)
	}

	close(bRunner.hold)
	if err := <-bDone; err != nil {
		t.Fatalf("B: %v", err)
	}
}

func TestStartRunsStartupCycle(t *testing.T) {
	r := &countingRunner{entered: make(chan struct{}, 1)}
	s := NewScheduler(r, time.Hour)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-r.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("startup cycle did not run")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if r.runs.Load() != 1 {
		t.Fatalf("runs = %d, want 1", r.runs.Load())
	}
}

func TestStopWaitsForCyclesStartedAlongsideIt(t *testing.T) {
	for round := 0; round < 50; round++ {
		r := &countingRunner{delay: func() time.Duration { return time.Millisecond }}
		s := NewScheduler(r, time.Hour)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = s.TriggerImmediateCycle(context.Background())
			}()
		}
		if err := s.Stop(context.Background()); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		if n := r.active.Load(); n != 0 {
			t.Fatalf("round %d: %d cycles still running after Stop", round, n)
		}
		wg.Wait()

		if _, err := s.TriggerImmediateCycle(context.Background()); !errors.Is(err, ErrSchedulerStopped) {
			t.Fatalf("trigger after Stop = %v, want ErrSchedulerStopped", err)
		}
	}
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"SignalPulse/internal/domain/models"
	domrepo "SignalPulse/internal/domain/repository"
	"SignalPulse/pkg/logger"
)

// ErrLeaseHeld means another replica owns the cycle lease.
var ErrLeaseHeld = errors.New("cycle lease held by another instance")

// ErrSchedulerStopped is returned to triggers that arrive after Stop.
var ErrSchedulerStopped = errors.New("scheduler stopped")

type SchedulerState string

const (
	StateIdle    SchedulerState = "IDLE"
	StateRunning SchedulerState = "RUNNING"
)

// TriggerResult is returned by a manual trigger. Coalesced is set when the caller joined a
// cycle that was already running.
type TriggerResult struct {
	Summary   models.CycleSummary `json:"summary"`
	Coalesced bool                `json:"coalesced"`
}

type flight struct {
	done    chan struct{}
	summary models.CycleSummary
	err     error
}

// Scheduler guarantees that at most one cycle runs at a time.
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
	locker   domrepo.Locker
	leaseKey string
	leaseTTL time.Duration
	metrics  domrepo.Metrics
	log      *logger.Logger

	// mu guards inflight and stopped, and every wg.Add happens under it so Stop's Wait
	// never races a new cycle.
	mu       sync.Mutex
	inflight *flight
	stopped  bool

	base   context.Context
	cancel context.CancelFunc
	cron   *gocron.Scheduler
	wg     sync.WaitGroup
}

type SchedulerOption func(*Scheduler)

// WithLease enables the distributed lease so only one replica computes per interval.
func WithLease(locker domrepo.Locker, key string, ttl time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.locker = locker
		s.leaseKey = key
		s.leaseTTL = ttl
	}
}

func WithSchedulerMetrics(m domrepo.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

func WithSchedulerLogger(l *logger.Logger) SchedulerOption {
	return func(s *Scheduler) { s.log = l }
}

func NewScheduler(runner CycleRunner, interval time.Duration, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		runner:   runner,
		interval: interval,
		leaseKey: "cycle",
		leaseTTL: 5 * time.Minute,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Component("scheduler")
	s.base, s.cancel = context.WithCancel(context.Background())
	return s
}

// State reports whether a cycle is in flight.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight != nil {
		return StateRunning
	}
	return StateIdle
}

// Start runs one cycle right away and then arms the interval timer.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("scheduler: invalid interval %s", s.interval)
	}
	s.cancel()
	s.base, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()

	if f, ok, _ := s.begin(); ok {
		go func() {
			defer s.wg.Done()
			s.execute(f, models.TriggerStartup)
		}()
	}

	s.cron = gocron.NewScheduler(time.UTC)
	if _, err := s.cron.Every(s.interval).WaitForSchedule().Do(s.Tick); err != nil {
		return fmt.Errorf("scheduler: register job: %w", err)
	}
	s.cron.StartAsync()
	s.log.Info("scheduler started", logger.Duration("interval", s.interval))
	return nil
}

// Stop disarms the timer and waits for an in-flight cycle until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	defer s.cancel()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: waiting for cycle: %w", ctx.Err())
	}
}

// Tick is the timer callback. It drops the tick when a cycle is already running.
func (s *Scheduler) Tick() {
	f, ok, err := s.begin()
	if err != nil {
		return
	}
	if !ok {
		s.log.Debug("tick dropped, cycle in progress")
		if s.metrics != nil {
			s.metrics.RecordTickDropped()
		}
		return
	}
	defer s.wg.Done()
	s.execute(f, models.TriggerTimer)
}

// TriggerImmediateCycle starts a cycle or joins the running one and waits for its summary.
// The cycle itself runs on the scheduler context; cancelling ctx only stops the wait.
func (s *Scheduler) TriggerImmediateCycle(ctx context.Context) (TriggerResult, error) {
	return s.TriggerWith(ctx, models.TriggerManual)
}

// TriggerWith is TriggerImmediateCycle with an explicit trigger label.
func (s *Scheduler) TriggerWith(ctx context.Context, trigger models.Trigger) (TriggerResult, error) {
	f, started, err := s.begin()
	if err != nil {
		return TriggerResult{}, err
	}
	if started {
		go func() {
			defer s.wg.Done()
			s.execute(f, trigger)
		}()
	} else if s.metrics != nil {
		s.metrics.RecordTriggerCoalesced()
	}

	select {
	case <-f.done:
		return TriggerResult{Summary: f.summary, Coalesced: !started}, f.err
	case <-ctx.Done():
		return TriggerResult{Coalesced: !started}, ctx.Err()
	}
}

// begin moves IDLE to RUNNING. When a cycle is already running it returns that flight.
// A started flight holds one wg slot; the caller must release it with wg.Done.
func (s *Scheduler) begin() (*flight, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight != nil {
		return s.inflight, false, nil
	}
	if s.stopped {
		return nil, false, ErrSchedulerStopped
	}
	s.wg.Add(1)
	s.inflight = &flight{done: make(chan struct{})}
	return s.inflight, true, nil
}

func (s *Scheduler) finish(f *flight) {
	s.mu.Lock()
	s.inflight = nil
	s.mu.Unlock()
	close(f.done)
}

func (s *Scheduler) execute(f *flight, trigger models.Trigger) {
	defer s.finish(f)
	defer func() {
		if r := recover(); r != nil {
			f.err = fmt.Errorf("cycle panicked: %v", r)
			s.log.Error("cycle panicked", logger.String("trigger", string(trigger)), logger.Any("panic", r))
		}
	}()

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(s.base, s.leaseKey, s.leaseTTL)
		switch {
		case err != nil:
			s.log.Warn("lease check failed, running without lease", logger.Error(err))
		case !ok:
			s.log.Debug("cycle skipped, lease held elsewhere", logger.String("trigger", string(trigger)))
			f.err = ErrLeaseHeld
			return
		default:
			defer func() {
				if err := s.locker.Unlock(context.WithoutCancel(s.base), s.leaseKey, token); err != nil {
					s.log.Warn("lease release failed", logger.Error(err))
				}
			}()
		}
	}

	f.summary = s.runner.Run(s.base, trigger)
}

package ratelimit

import (
	"time"

	"SignalPulse/internal/domain/models"
)

// breaker is the circuit breaker half of the Limiter. It is not safe for concurrent use;
// the Limiter serializes every call under its own mutex.
//
// CLOSED -> OPEN after threshold consecutive failures or when the monthly quota is used up.
// OPEN -> HALF_OPEN once recoveryAt passes. HALF_OPEN admits at most halfOpenMax trial calls,
// closes after halfOpenMax consecutive successes and reopens on any failure.
type breaker struct {
	state       models.BreakerState
	threshold   int
	cooldown    time.Duration
	halfOpenMax int

	failures   int
	successes  int
	trials     int
	trippedAt  time.Time
	recoveryAt time.Time

	onStateChange func(from, to models.BreakerState)
}

func newBreaker(threshold int, cooldown time.Duration, halfOpenMax int) *breaker {
	return &breaker{
		state:       models.BreakerClosed,
		threshold:   threshold,
		cooldown:    cooldown,
		halfOpenMax: halfOpenMax,
	}
}

// check reports whether a request may pass at now. It may move OPEN to HALF_OPEN
// but does not reserve a trial slot; call admit once the request is really allowed.
func (b *breaker) check(now time.Time) (time.Duration, bool) {
	switch b.state {
	case models.BreakerOpen:
		if now.Before(b.recoveryAt) {
			return b.recoveryAt.Sub(now), false
		}
		b.transition(models.BreakerHalfOpen)
		return 0, true
	case models.BreakerHalfOpen:
		if b.trials >= b.halfOpenMax {
			return b.cooldown, false
		}
	}
	return 0, true
}

func (b *breaker) admit() {
	if b.state == models.BreakerHalfOpen {
		b.trials++
	}
}

func (b *breaker) onSuccess() {
	b.failures = 0
	if b.state != models.BreakerHalfOpen {
		return
	}
	if b.trials > 0 {
		b.trials--
	}
	b.successes++
	if b.successes >= b.halfOpenMax {
		b.transition(models.BreakerClosed)
	}
}

func (b *breaker) onFailure(now time.Time) {
	b.failures++
	b.successes = 0
	switch b.state {
	case models.BreakerHalfOpen:
		b.trip(now, now.Add(b.cooldown))
	case models.BreakerClosed:
		if b.failures >= b.threshold {
			b.trip(now, now.Add(b.cooldown))
		}
	}
}

// trip opens the breaker until the given time. An already open breaker only ever extends.
func (b *breaker) trip(now, until time.Time) {
	if b.state == models.BreakerOpen {
		if until.After(b.recoveryAt) {
			b.recoveryAt = until
		}
		return
	}
	b.trippedAt = now
	b.recoveryAt = until
	b.transition(models.BreakerOpen)
}

func (b *breaker) transition(to models.BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.trials = 0
	b.successes = 0
	if to == models.BreakerClosed {
		b.failures = 0
		b.recoveryAt = time.Time{}
	}
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/domain/repository"
)

var (
	_ repository.Metrics = (*Recorder)(nil)
	_ repository.Metrics = Noop{}
)

func TestRecorder(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordCycle("timer", "ok", 1.2)
	r.RecordCycle("timer", "ok", 0.8)
	r.RecordTickDropped()
	r.RecordLimiterDecision("rejected", "circuit_open")
	r.RecordBreakerState(models.BreakerHalfOpen)
	r.RecordSignal("BTC/USDT", "1h", models.DirectionLong, 72)

	if got := testutil.ToFloat64(r.cycles.WithLabelValues("timer", "ok")); got != 2 {
		t.Fatalf("cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.ticksDropped); got != 1 {
		t.Fatalf("ticks dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.breakerState); got != 2 {
		t.Fatalf("breaker state = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.confidence.WithLabelValues("BTC/USDT", "1h")); got != 72 {
		t.Fatalf("confidence = %v, want 72", got)
	}
}

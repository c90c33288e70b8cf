package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"SignalPulse/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cycles           *prometheus.CounterVec
	cycleDuration    *prometheus.HistogramVec
	ticksDropped     prometheus.Counter
	triggerCoalesced prometheus.Counter
	limiterDecisions *prometheus.CounterVec
	breakerState     prometheus.Gauge
	monthlyUsed      prometheus.Gauge
	monthlyQuota     prometheus.Gauge
	fetchErrors      *prometheus.CounterVec
	staleSymbols     prometheus.Gauge
	signals          *prometheus.CounterVec
	confidence       *prometheus.GaugeVec
	lastPrice        *prometheus.GaugeVec
	latency          *prometheus.HistogramVec
	sinkErrors       *prometheus.CounterVec
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalpulse_cycles_total",
				Help: "Calculation cycles by trigger and result",
			},
			[]string{"trigger", "result"},
		),
		cycleDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalpulse_cycle_duration_seconds",
				Help:    "Wall time of a calculation cycle",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"trigger"},
		),
		ticksDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "signalpulse_ticks_dropped_total",
			Help: "Timer ticks dropped because a cycle was running",
		}),
		triggerCoalesced: f.NewCounter(prometheus.CounterOpts{
			Name: "signalpulse_triggers_coalesced_total",
			Help: "Manual triggers that joined an in-flight cycle",
		}),
		limiterDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalpulse_limiter_decisions_total",
				Help: "Rate limiter decisions by result and rejection reason",
			},
			[]string{"result", "reason"},
		),
		breakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "signalpulse_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}),
		monthlyUsed: f.NewGauge(prometheus.GaugeOpts{
			Name: "signalpulse_quota_monthly_used",
			Help: "Provider requests counted against the current month",
		}),
		monthlyQuota: f.NewGauge(prometheus.GaugeOpts{
			Name: "signalpulse_quota_monthly_limit",
			Help: "Configured monthly provider quota",
		}),
		fetchErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalpulse_fetch_errors_total",
				Help: "Per-symbol fetch failures by kind",
			},
			[]string{"kind"},
		),
		staleSymbols: f.NewGauge(prometheus.GaugeOpts{
			Name: "signalpulse_stale_symbols",
			Help: "Symbols served from stale data in the last cycle",
		}),
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalpulse_signals_total",
				Help: "Signals generated by timeframe and direction",
			},
			[]string{"timeframe", "direction"},
		),
		confidence: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalpulse_signal_confidence",
				Help: "Latest confidence per symbol and timeframe",
			},
			[]string{"symbol", "timeframe"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalpulse_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalpulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		sinkErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalpulse_sink_errors_total",
				Help: "Failed snapshot deliveries by sink",
			},
			[]string{"sink"},
		),
	}
}

func (r *Recorder) RecordCycle(trigger, result string, seconds float64) {
	r.cycles.WithLabelValues(trigger, result).Inc()
	r.cycleDuration.WithLabelValues(trigger).Observe(seconds)
}

func (r *Recorder) RecordTickDropped() { r.ticksDropped.Inc() }

func (r *Recorder) RecordTriggerCoalesced() { r.triggerCoalesced.Inc() }

func (r *Recorder) RecordLimiterDecision(result, reason string) {
	r.limiterDecisions.WithLabelValues(result, reason).Inc()
}

func (r *Recorder) RecordBreakerState(state models.BreakerState) {
	r.breakerState.Set(float64(state))
}

func (r *Recorder) RecordMonthlyUsage(used, quota int64) {
	r.monthlyUsed.Set(float64(used))
	r.monthlyQuota.Set(float64(quota))
}

// RecordFetchError records a per-symbol fetch failure.
func (r *Recorder) RecordFetchError(kind string) {
	r.fetchErrors.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordStaleSymbols(n int) { r.staleSymbols.Set(float64(n)) }

// RecordSignal counts a generated signal and keeps its confidence as a gauge.
func (r *Recorder) RecordSignal(symbol, timeframe string, direction models.Direction, confidence int) {
	r.signals.WithLabelValues(timeframe, string(direction)).Inc()
	r.confidence.WithLabelValues(symbol, timeframe).Set(float64(confidence))
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordSinkError(sink string) {
	r.sinkErrors.WithLabelValues(sink).Inc()
}

// Noop discards every measurement.
type Noop struct{}

func (Noop) RecordCycle(string, string, float64) {}
func (Noop) RecordTickDropped() {}
func (Noop) RecordTriggerCoalesced() {}
func (Noop) RecordLimiterDecision(string, string) {}
func (Noop) RecordBreakerState(models.BreakerState) {}
func (Noop) RecordMonthlyUsage(int64, int64) {}
func (Noop) RecordFetchError(string) {}
func (Noop) RecordStaleSymbols(int) {}
func (Noop) RecordSignal(string, string, models.Direction, int) {}
func (Noop) RecordLastPrice(string, float64) {}
func (Noop) RecordLatency(string, float64) {}
func (Noop) RecordSinkError(string) {}

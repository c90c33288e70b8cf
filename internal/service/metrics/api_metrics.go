package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	NotYetComputed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signalpulse",
			Subsystem: "api",
			Name:      "not_yet_computed_total",
			Help:      "Signal lookups answered before any cycle produced the key",
		},
		[]string{"endpoint"},
	)

	TriggerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signalpulse",
			Subsystem: "api",
			Name:      "trigger_requests_total",
			Help:      "Manual recompute requests by outcome",
		},
		[]string{"source", "outcome"},
	)

	WSClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "signalpulse",
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Connected websocket subscribers",
		},
	)
)

// Register adds the API collectors to the default registry. Safe to call more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(NotYetComputed, TriggerRequests, WSClients)
	})
}

// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upstream attempt outcomes.
const (
	OutcomeSuccess           = "success"
	OutcomeTimeout           = "timeout"
	OutcomeStatus            = "status"
	OutcomeTransport         = "transport"
	OutcomeMissingCredential = "missing_credential"
	OutcomeCircuitOpen       = "circuit_open"
)

// Metrics contains the collectors for requests and upstream attempts.
// A nil *Metrics records nothing.
type Metrics struct {
	requests        *prometheus.CounterVec
	upstreamAttempt *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	catalogSwaps    prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaygate_requests_total",
				Help: "Chat completion requests by terminal state",
			},
			[]string{"state"},
		),
		upstreamAttempt: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaygate_upstream_attempts_total",
				Help: "Upstream attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		upstreamLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relaygate_upstream_attempt_duration_seconds",
				Help:    "Time until an upstream attempt succeeded or failed",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30},
			},
			[]string{"provider"},
		),
		catalogSwaps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relaygate_catalog_swaps_total",
				Help: "Catalog snapshots installed after startup",
			},
		),
	}
}

// RecordRequest counts a request that reached state.
func (m *Metrics) RecordRequest(state string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(state).Inc()
}

// RecordAttempt counts one upstream attempt and its latency.
func (m *Metrics) RecordAttempt(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstreamAttempt.WithLabelValues(provider, outcome).Inc()
	m.upstreamLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// RecordCatalogSwap counts an installed catalog snapshot.
func (m *Metrics) RecordCatalogSwap() {
	if m == nil {
		return
	}
	m.catalogSwaps.Inc()
}

package matching

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	CyclesTotal      prometheus.Counter
	CycleDuration    prometheus.Histogram
	MatchesSubmitted *prometheus.CounterVec
	MatchRejections  *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "matching_cycles_total",
				Help: "Total matching cycles run.",
			},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "matching_cycle_duration_seconds",
				Help:    "Duration of one matching cycle in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		MatchesSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matching_matches_submitted_total",
				Help: "Match commands accepted by the ledger.",
			},
			[]string{"pair"},
		),
		MatchRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matching_rejections_total",
				Help: "Match commands the ledger rejected (expected under races).",
			},
			[]string{"pair"},
		),
	}

	registry.MustRegister(m.CyclesTotal, m.CycleDuration, m.MatchesSubmitted, m.MatchRejections)
	return m
}

func (m *Metrics) ObserveCycle(duration time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(duration.Seconds())
}

func (m *Metrics) ObserveMatch(pair string) {
	if m == nil {
		return
	}
	m.MatchesSubmitted.WithLabelValues(pair).Inc()
}

func (m *Metrics) ObserveRejection(pair string) {
	if m == nil {
		return
	}
	m.MatchRejections.WithLabelValues(pair).Inc()
}

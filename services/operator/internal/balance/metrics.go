package balance

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Consolidations *prometheus.CounterVec
	BalanceReads   prometheus.Counter
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Consolidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_consolidations_total",
				Help: "Total balance consolidation attempts by result.",
			},
			[]string{"result"},
		),
		BalanceReads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "balance_reads_total",
				Help: "Total balance snapshot reads.",
			},
		),
	}

	registry.MustRegister(m.Consolidations, m.BalanceReads)
	return m
}

func (m *Metrics) ObserveConsolidation(result string) {
	if m == nil {
		return
	}
	m.Consolidations.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveBalanceRead() {
	if m == nil {
		return
	}
	m.BalanceReads.Inc()
}

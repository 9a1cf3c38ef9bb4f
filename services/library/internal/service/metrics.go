package service

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	LendingOps   *prometheus.CounterVec
	Promotions   *prometheus.CounterVec
	SearchPaths  *prometheus.CounterVec
	CopyRestores prometheus.Counter
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		LendingOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "library_lending_operations_total",
				Help: "Lending operations by kind and outcome.",
			},
			[]string{"operation", "result"},
		),
		Promotions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "library_reservation_promotions_total",
				Help: "Due reservations handled by the promoter by outcome.",
			},
			[]string{"result"},
		),
		SearchPaths: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "library_search_requests_total",
				Help: "Catalog searches by the path that produced the result.",
			},
			[]string{"path"},
		),
		CopyRestores: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "library_copy_restores_total",
				Help: "Copies given back after a lending insert or promotion failed.",
			},
		),
	}

	registry.MustRegister(m.LendingOps, m.Promotions, m.SearchPaths, m.CopyRestores)
	return m
}

func (m *Metrics) lendingOp(op, result string) {
	if m != nil {
		m.LendingOps.WithLabelValues(op, result).Inc()
	}
}

func (m *Metrics) promotion(result string) {
	if m != nil {
		m.Promotions.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) searchPath(path string) {
	if m != nil {
		m.SearchPaths.WithLabelValues(path).Inc()
	}
}

func (m *Metrics) copyRestored() {
	if m != nil {
		m.CopyRestores.Inc()
	}
}

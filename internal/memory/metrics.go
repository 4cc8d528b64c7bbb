package memory

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds service counters. A nil *Metrics records nothing.
type Metrics struct {
	saves      *prometheus.CounterVec
	searches   *prometheus.CounterVec
	candidates prometheus.Histogram
}

// NewMetrics creates and registers the service metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memory",
			Name:      "saves_total",
			Help:      "Save calls by outcome (created, duplicate, error).",
		}, []string{"outcome"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memory",
			Name:      "searches_total",
			Help:      "Search calls by outcome (ok, error).",
		}, []string{"outcome"}),
		candidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "memory",
			Name:      "search_candidates",
			Help:      "Memories scored per search.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}
	reg.MustRegister(m.saves, m.searches, m.candidates)
	return m
}

func (m *Metrics) observeSave(outcome string) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeSearch(outcome string, candidates int) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.candidates.Observe(float64(candidates))
	}
}

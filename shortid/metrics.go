package shortid

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storeMetrics exists only when WithMetricsRegisterer was supplied. All
// methods are no-ops on a nil receiver so call sites stay unguarded.
type storeMetrics struct {
	lookups *prometheus.CounterVec
	creates *prometheus.CounterVec
	corrupt *prometheus.CounterVec
	burned  *prometheus.CounterVec
}

func newStoreMetrics(r prometheus.Registerer) *storeMetrics {
	f := promauto.With(r)
	return &storeMetrics{
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parlor",
			Subsystem: "shortid",
			Name:      "lookups_total",
			Help:      "Identifier lookups by map and outcome.",
		}, []string{"map", "result"}),
		creates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parlor",
			Subsystem: "shortid",
			Name:      "creates_total",
			Help:      "Short ids minted, by map.",
		}, []string{"map"}),
		corrupt: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parlor",
			Subsystem: "shortid",
			Name:      "corrupt_entries_total",
			Help:      "Stored entries that failed to decode, by map.",
		}, []string{"map"}),
		burned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parlor",
			Subsystem: "shortid",
			Name:      "burned_ids_total",
			Help:      "Allocated ids wasted because a mapping write failed, by map.",
		}, []string{"map"}),
	}
}

func (m *storeMetrics) lookupInc(name string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.WithLabelValues(name, result).Inc()
}

func (m *storeMetrics) createInc(name string) {
	if m == nil {
		return
	}
	m.creates.WithLabelValues(name).Inc()
}

func (m *storeMetrics) corruptInc(name string) {
	if m == nil {
		return
	}
	m.corrupt.WithLabelValues(name).Inc()
}

func (m *storeMetrics) burnedInc(name string) {
	if m == nil {
		return
	}
	m.burned.WithLabelValues(name).Inc()
}

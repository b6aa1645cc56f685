package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for jurisdiction resolution.
type Metrics struct {
	// Cache lookups by result: hit, miss, stale, error
	CacheLookups *prometheus.CounterVec

	// Callers served by another caller's in-flight resolution
	Coalesced prometheus.Counter

	// Resolution outcomes: resolved, unresolvable, unsupported, failed
	Outcomes *prometheus.CounterVec

	// Uncached resolution latency (geocode + describe + office lookup)
	ResolveLatency prometheus.Histogram
}

// New registers jurisdiction metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "demarches_jurisdiction_cache_lookups_total",
			Help: "Jurisdiction cache lookups by result",
		}, []string{"result"}),

		Coalesced: f.NewCounter(prometheus.CounterOpts{
			Name: "demarches_jurisdiction_coalesced_total",
			Help: "Resolutions served by a concurrent in-flight call for the same address",
		}),

		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "demarches_jurisdiction_resolutions_total",
			Help: "Uncached jurisdiction resolutions by outcome",
		}, []string{"outcome"}),

		ResolveLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "demarches_jurisdiction_resolve_duration_seconds",
			Help:    "Duration of uncached jurisdiction resolution",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) IncrementCacheLookup(result string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncrementCoalesced() {
	if m != nil {
		m.Coalesced.Inc()
	}
}

// ObserveResolution records the outcome and duration of one uncached resolution.
func (m *Metrics) ObserveResolution(outcome string, d time.Duration) {
	if m != nil {
		m.Outcomes.WithLabelValues(outcome).Inc()
		m.ResolveLatency.Observe(d.Seconds())
	}
}

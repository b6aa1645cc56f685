package upstream

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for upstream calls.
type Metrics struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
	Retries  *prometheus.CounterVec
}

// NewMetrics registers upstream metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "demarches_upstream_requests_total",
			Help: "Upstream calls by upstream name and outcome category",
		}, []string{"upstream", "outcome"}),

		Latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "demarches_upstream_request_duration_seconds",
			Help:    "Duration of a single upstream attempt",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"upstream"}),

		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "demarches_upstream_retries_total",
			Help: "Retried upstream attempts by upstream name",
		}, []string{"upstream"}),
	}
}

func (m *Metrics) observe(upstream, outcome string, d time.Duration) {
	if m != nil {
		m.Requests.WithLabelValues(upstream, outcome).Inc()
		m.Latency.WithLabelValues(upstream).Observe(d.Seconds())
	}
}

func (m *Metrics) retry(upstream string) {
	if m != nil {
		m.Retries.WithLabelValues(upstream).Inc()
	}
}

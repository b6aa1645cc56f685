package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for benefit evaluation.
type Metrics struct {
	// Simulator round trips by outcome: ok, incomplete_profile, simulation_failed, unavailable
	Simulations *prometheus.CounterVec

	SimulationLatency prometheus.Histogram

	// Evaluated benefits by benefit id and eligibility
	Results *prometheus.CounterVec
}

// New registers eligibility metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Simulations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "demarches_eligibility_evaluations_total",
			Help: "Eligibility evaluations by outcome",
		}, []string{"outcome"}),

		SimulationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "demarches_eligibility_simulation_duration_seconds",
			Help:    "Duration of the simulator call including retries",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),

		Results: f.NewCounterVec(prometheus.CounterOpts{
			Name: "demarches_eligibility_results_total",
			Help: "Evaluated benefits by benefit id and eligibility",
		}, []string{"benefit", "eligible"}),
	}
}

// ObserveEvaluation records one evaluation outcome and, when a simulation ran, its duration.
func (m *Metrics) ObserveEvaluation(outcome string, d time.Duration) {
	if m != nil {
		m.Simulations.WithLabelValues(outcome).Inc()
		if d > 0 {
			m.SimulationLatency.Observe(d.Seconds())
		}
	}
}

func (m *Metrics) IncrementResult(benefit string, eligible bool) {
	if m != nil {
		m.Results.WithLabelValues(benefit, strconv.FormatBool(eligible)).Inc()
	}
}

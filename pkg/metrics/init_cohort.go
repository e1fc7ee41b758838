package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initCohortMetrics() {
	r.CohortCollectivesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparsebm_cohort_collectives_total",
			Help: "Total number of cohort collective operations",
		},
		[]string{"operation"},
	)

	r.CohortCollectiveSeconds = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sparsebm_cohort_collective_duration_seconds",
			Help:    "Cohort collective duration in seconds",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"operation"},
	)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initLearningMetrics() {
	r.IterationsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "sparsebm_iterations_total",
			Help: "Total number of completed sampler iterations",
		},
	)

	r.IterationDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sparsebm_iteration_duration_seconds",
			Help:    "Wall time per sampler iteration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
	)

	r.PhaseDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sparsebm_phase_duration_seconds",
			Help:    "Wall time per iteration phase",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"phase"},
	)

	r.PerplexityHeldOut = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "sparsebm_perplexity_held_out",
			Help: "Most recent held-out perplexity",
		},
	)

	r.MinibatchEdges = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sparsebm_minibatch_edges",
			Help:    "Edges per sampled minibatch",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	r.MinibatchNodes = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sparsebm_minibatch_nodes",
			Help:    "Unique nodes per sampled minibatch",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	r.SelfNeighbourDraws = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "sparsebm_self_neighbour_draws_total",
			Help: "Neighbour samples that drew the node itself and were skipped",
		},
	)

	r.NumericAnomalies = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparsebm_numeric_anomalies_total",
			Help: "NaN values detected during evaluation",
		},
		[]string{"site"},
	)
}

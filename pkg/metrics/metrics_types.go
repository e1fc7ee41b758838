package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every metric the engine exports.
type Registry struct {
	registry *prometheus.Registry

	// Learning loop
	IterationsTotal    prometheus.Counter
	IterationDuration  prometheus.Histogram
	PhaseDuration      *prometheus.HistogramVec
	PerplexityHeldOut  prometheus.Gauge
	MinibatchEdges     prometheus.Histogram
	MinibatchNodes     prometheus.Histogram
	SelfNeighbourDraws prometheus.Counter
	NumericAnomalies   *prometheus.CounterVec

	// DKV store
	DKVOperationsTotal  *prometheus.CounterVec
	DKVRowsTotal        *prometheus.CounterVec
	DKVOperationSeconds *prometheus.HistogramVec

	// Cohort
	CohortCollectivesTotal  *prometheus.CounterVec
	CohortCollectiveSeconds *prometheus.HistogramVec
}

// NewRegistry creates a Registry with all metrics registered.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}

	r.initLearningMetrics()
	r.initDKVMetrics()
	r.initCohortMetrics()

	return r
}

// Gatherer exposes the underlying registry for scraping.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

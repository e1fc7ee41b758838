package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initDKVMetrics() {
	r.DKVOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparsebm_dkv_operations_total",
			Help: "Total number of DKV store operations",
		},
		[]string{"operation", "status"},
	)

	r.DKVRowsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparsebm_dkv_rows_total",
			Help: "Total rows moved through the DKV store",
		},
		[]string{"operation"},
	)

	r.DKVOperationSeconds = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sparsebm_dkv_operation_duration_seconds",
			Help:    "DKV store operation duration in seconds",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation"},
	)
}

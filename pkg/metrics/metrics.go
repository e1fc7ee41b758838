package metrics

import (
	"time"
)

// RecordIteration records one completed sampler iteration.
func (r *Registry) RecordIteration(duration time.Duration) {
	r.IterationsTotal.Inc()
	r.IterationDuration.Observe(duration.Seconds())
}

// RecordPhase records the wall time of one iteration phase.
func (r *Registry) RecordPhase(phase string, duration time.Duration) {
	r.PhaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordPerplexity records a held-out perplexity measurement.
func (r *Registry) RecordPerplexity(ppx float64) {
	r.PerplexityHeldOut.Set(ppx)
}

// RecordMinibatch records the size of a deployed minibatch.
func (r *Registry) RecordMinibatch(edges, nodes int) {
	r.MinibatchEdges.Observe(float64(edges))
	r.MinibatchNodes.Observe(float64(nodes))
}

// RecordDKVOperation records a DKV operation with the row count it moved.
func (r *Registry) RecordDKVOperation(operation, status string, rows int, duration time.Duration) {
	r.DKVOperationsTotal.WithLabelValues(operation, status).Inc()
	r.DKVRowsTotal.WithLabelValues(operation).Add(float64(rows))
	r.DKVOperationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCollective records a cohort collective.
func (r *Registry) RecordCollective(operation string, duration time.Duration) {
	r.CohortCollectivesTotal.WithLabelValues(operation).Inc()
	r.CohortCollectiveSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

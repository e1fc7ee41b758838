package learning

import (
	"time"

	"github.com/dd0wney/sparsebm/pkg/logging"
)

// phaseTimer accumulates wall time of one protocol phase across iterations.
type phaseTimer struct {
	name  string
	total time.Duration
	count int
}

func (t *phaseTimer) time(fn func() error) error {
	start := time.Now()
	err := fn()
	t.total += time.Since(start)
	t.count++
	return err
}

func (t *phaseTimer) add(d time.Duration) {
	t.total += d
	t.count++
}

// timerSet is the per-phase timing breakdown printed at termination.
type timerSet struct {
	populatePi      phaseTimer
	outer           phaseTimer
	deployMinibatch phaseTimer
	sampleNeighbors phaseTimer
	loadPiMinibatch phaseTimer
	loadPiNeighbor  phaseTimer
	updatePhi       phaseTimer
	barrierPhi      phaseTimer
	updatePi        phaseTimer
	storePi         phaseTimer
	barrierPi       phaseTimer
	updateBeta      phaseTimer
	broadcastTheta  phaseTimer
	perplexity      phaseTimer
	loadPiPerp      phaseTimer
	reducePerp      phaseTimer
}

func newTimerSet() *timerSet {
	t := &timerSet{}
	t.populatePi.name = "populate_pi"
	t.outer.name = "iteration"
	t.deployMinibatch.name = "deploy_minibatch"
	t.sampleNeighbors.name = "sample_neighbor_nodes"
	t.loadPiMinibatch.name = "load_minibatch_pi"
	t.loadPiNeighbor.name = "load_neighbor_pi"
	t.updatePhi.name = "update_phi"
	t.barrierPhi.name = "barrier_phi"
	t.updatePi.name = "update_pi"
	t.storePi.name = "store_minibatch_pi"
	t.barrierPi.name = "barrier_pi"
	t.updateBeta.name = "update_beta"
	t.broadcastTheta.name = "broadcast_theta"
	t.perplexity.name = "perplexity"
	t.loadPiPerp.name = "load_perplexity_pi"
	t.reducePerp.name = "reduce_perplexity"
	return t
}

// report logs each phase's cumulative wall time and call count.
func (t *timerSet) report(log logging.Logger) {
	for _, pt := range []*phaseTimer{
		&t.populatePi, &t.outer, &t.deployMinibatch, &t.sampleNeighbors,
		&t.loadPiMinibatch, &t.loadPiNeighbor, &t.updatePhi, &t.barrierPhi,
		&t.updatePi, &t.storePi, &t.barrierPi, &t.updateBeta,
		&t.broadcastTheta, &t.perplexity, &t.loadPiPerp, &t.reducePerp,
	} {
		if pt.count == 0 {
			continue
		}
		log.Info("phase timing",
			logging.String("phase", pt.name),
			logging.Duration("total", pt.total),
			logging.Count(pt.count))
	}
}

package learning

import (
	"fmt"
	"math"

	"github.com/dd0wney/sparsebm/pkg/network"
	"github.com/dd0wney/sparsebm/pkg/parallel"
	"github.com/dd0wney/sparsebm/pkg/pools"
	"github.com/dd0wney/sparsebm/pkg/randsrc"
)

// updateBeta scatters the minibatch edges evenly over the cohort, has every
// member accumulate theta gradients over its slice, reduces the gradients
// to the master, and applies the noisy theta step there. batch is non-nil
// only at the master.
func (s *DistributedSampler) updateBeta(batch *network.MiniBatch) error {
	counts := make([]int32, s.coh.Size())
	var triples []int32
	var scale float64

	if s.isMaster() {
		scale = batch.Scale
		edges := batch.Edges

		base := len(edges) / s.coh.Size()
		surplus := len(edges) % s.coh.Size()
		for rank := range counts {
			n := base
			if rank < surplus {
				n++
			}
			counts[rank] = int32(3 * n)
		}

		triples = make([]int32, 0, 3*len(edges))
		g := s.net.Graph()
		for _, e := range edges {
			y := int32(0)
			if g.Contains(e) {
				y = 1
			}
			triples = append(triples, e.First, e.Second, y)
		}
	}

	myCount := make([]int32, 1)
	if err := s.coh.ScatterInt32(counts, myCount, 0); err != nil {
		return err
	}
	mine := make([]int32, myCount[0])
	if err := s.coh.ScattervInt32(triples, counts, mine, 0); err != nil {
		return err
	}

	grads, err := s.betaGradients(mine)
	if err != nil {
		return err
	}

	if err := s.coh.ReduceSumFloat64(grads, 0); err != nil {
		return err
	}

	if s.isMaster() {
		if err := s.applyThetaUpdate(grads, scale); err != nil {
			return err
		}
	}

	return s.store.Purge()
}

// betaGradients bulk-reads pi for the unique nodes of this member's edge
// slice and accumulates the K x 2 theta gradient over its edges.
func (s *DistributedSampler) betaGradients(triples []int32) ([]float64, error) {
	for _, g := range s.gradsBeta {
		clear(g)
	}

	numEdges := len(triples) / 3

	// Dense rank over the slice's node ids.
	rank := make(map[int32]int, 2*numEdges)
	var nodes []int32
	for e := 0; e < numEdges; e++ {
		for _, v := range triples[3*e : 3*e+2] {
			if _, ok := rank[v]; !ok {
				rank[v] = len(nodes)
				nodes = append(nodes, v)
			}
		}
	}

	pi := make([][]float64, len(nodes))
	if len(nodes) > 0 {
		if err := s.readRows(nodes, pi); err != nil {
			return nil, err
		}
	}

	thetaSum := make([]float64, s.K)
	for k := 0; k < s.K; k++ {
		thetaSum[k] = s.thetaFlat[2*k] + s.thetaFlat[2*k+1]
	}

	parallel.For(numEdges, s.threads, func(thread, lo, hi int) {
		g := s.gradsBeta[thread]
		probs := pools.GetFloat64s(s.K)[:s.K]
		defer pools.PutFloat64s(probs)

		for e := lo; e < hi; e++ {
			a := rank[triples[3*e]]
			b := rank[triples[3*e+1]]
			y := triples[3*e+2] == 1

			piSum := 0.0
			probSum := 0.0
			for k := 0; k < s.K; k++ {
				f := pi[a][k] * pi[b][k]
				piSum += f
				if y {
					probs[k] = s.Beta[k] * f
				} else {
					probs[k] = (1.0 - s.Beta[k]) * f
				}
				probSum += probs[k]
			}

			prob0 := (1.0 - s.Epsilon) * (1.0 - piSum)
			if y {
				prob0 = s.Epsilon * (1.0 - piSum)
			}
			probSum += prob0

			for k := 0; k < s.K; k++ {
				f := probs[k] / probSum
				oneOverSum := 1.0 / thetaSum[k]
				yv := 0.0
				if y {
					yv = 1.0
				}
				g[2*k] += f * ((1.0-yv)/s.thetaFlat[2*k] - oneOverSum)
				g[2*k+1] += f * (yv/s.thetaFlat[2*k+1] - oneOverSum)
			}
		}
	})

	// Fold thread buffers into one.
	total := make([]float64, 2*s.K)
	for _, g := range s.gradsBeta {
		for i := range total {
			total[i] += g[i]
		}
	}
	return total, nil
}

// applyThetaUpdate performs the master's noisy Robbins-Monro step on theta
// and re-derives beta.
func (s *DistributedSampler) applyThetaUpdate(grads []float64, scale float64) error {
	epsT := s.EpsT()
	noise := s.fleet.Source(randsrc.BetaUpdate).NormalMatrix(s.K, 2)

	for k := 0; k < s.K; k++ {
		for i := 0; i < 2; i++ {
			t := s.Theta[k][i]
			next := math.Abs(t + epsT/2.0*(s.Eta[i]-t+scale*grads[2*k+i]) +
				math.Sqrt(epsT*t)*noise[k][i])
			if next < MCMCNonzeroGuard {
				next = MCMCNonzeroGuard
			}
			if math.IsNaN(next) {
				return fmt.Errorf("%w: theta[%d][%d] is NaN at step %d", ErrNumeric, k, i, s.StepCount)
			}
			s.Theta[k][i] = next
		}
	}

	for k := 0; k < s.K; k++ {
		s.thetaFlat[2*k] = s.Theta[k][0]
		s.thetaFlat[2*k+1] = s.Theta[k][1]
	}
	s.BetaFromTheta(s.thetaFlat)
	return nil
}

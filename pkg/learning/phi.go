package learning

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dd0wney/sparsebm/pkg/dkv"
	"github.com/dd0wney/sparsebm/pkg/graph"
	"github.com/dd0wney/sparsebm/pkg/logging"
	"github.com/dd0wney/sparsebm/pkg/parallel"
	"github.com/dd0wney/sparsebm/pkg/pools"
	"github.com/dd0wney/sparsebm/pkg/randsrc"
)

// updatePhi walks this worker's minibatch slice in cache-sized chunks: load
// the chunk's pi rows, sample neighbours per node in parallel, load the
// neighbours' pi rows, then compute each node's new phi.
func (s *DistributedSampler) updatePhi() error {
	epsT := s.EpsT()
	rns := s.realNumNodeSample()

	for chunkStart := 0; chunkStart < len(s.nodes); chunkStart += s.maxMinibatchChunk {
		chunk := min(s.maxMinibatchChunk, len(s.nodes)-chunkStart)
		chunkNodes := s.nodes[chunkStart : chunkStart+chunk]

		piNode := make([][]float64, chunk)
		err := s.timers.loadPiMinibatch.time(func() error {
			return s.readRows(chunkNodes, piNode)
		})
		if err != nil {
			return err
		}

		flatNeighbours := pools.GetInt32s(chunk * rns)[:chunk*rns]
		start := time.Now()
		parallel.ForEach(chunk, s.threads, func(thread, i int) {
			rng := s.fleet.ThreadSource(randsrc.NeighborSampler, thread)
			s.sampleNeighbourNodes(chunkNodes[i], rng,
				flatNeighbours[i*rns:(i+1)*rns])
		})
		s.timers.sampleNeighbors.add(time.Since(start))

		piNeighbour := make([][]float64, chunk*rns)
		err = s.timers.loadPiNeighbor.time(func() error {
			return s.readRows(flatNeighbours, piNeighbour)
		})
		if err != nil {
			return err
		}

		start = time.Now()
		var (
			updateMu  sync.Mutex
			updateErr error
		)
		parallel.ForEach(chunk, s.threads, func(thread, i int) {
			rng := s.fleet.ThreadSource(randsrc.PhiUpdate, thread)
			err := s.updatePhiNode(chunkStart+i, chunkNodes[i], piNode[i],
				flatNeighbours[i*rns:(i+1)*rns],
				piNeighbour[i*rns:(i+1)*rns],
				epsT, rng, s.phiNode[chunkStart+i])
			if err != nil {
				updateMu.Lock()
				if updateErr == nil {
					updateErr = err
				}
				updateMu.Unlock()
			}
		})
		s.timers.updatePhi.add(time.Since(start))
		if updateErr != nil {
			return updateErr
		}

		pools.PutInt32s(flatNeighbours)

		if err := s.store.Purge(); err != nil {
			return err
		}
	}

	return nil
}

func (s *DistributedSampler) readRows(keys []int32, out [][]float64) error {
	start := time.Now()
	err := s.store.Read(keys, out, dkv.ReadOnly)
	if s.met != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.met.RecordDKVOperation("read", status, len(keys), time.Since(start))
	}
	return err
}

// sampleNeighbourNodes fills out with distinct neighbour candidates from
// [0, N) \ {node} that are not in the held-out or test filter. len(out) is
// num_node_sample+1: the sampler always produced one draw beyond the
// nominal count and the buffer stride preserves that.
func (s *DistributedSampler) sampleNeighbourNodes(node graph.Vertex, rng *randsrc.Random, out []int32) {
	want := len(out)
	got := 0
	chosen := make(map[int32]struct{}, want)

	// Drawing 2x per round usually fills the set in one pass over the
	// candidate list.
	draw := max(2*s.numNodeSample, 2)
	for got < want {
		for _, cand := range rng.SampleDistinct(draw, s.N) {
			if got == want {
				break
			}
			if cand == node {
				continue
			}
			if _, dup := chosen[cand]; dup {
				continue
			}
			e := graph.NewEdge(node, cand)
			if _, held := s.heldOutFilter[e]; held {
				continue
			}
			chosen[cand] = struct{}{}
			out[got] = cand
			got++
		}
	}
}

// updatePhiNode computes the new phi vector of one minibatch node from its
// sampled neighbours' pi rows, with the Robbins-Monro step and injected
// Gaussian noise.
func (s *DistributedSampler) updatePhiNode(index int, node graph.Vertex, piNode []float64,
	neighbours []int32, piNbr [][]float64, epsT float64,
	rng *randsrc.Random, out []float64) error {

	phiSum := piNode[s.K]
	if math.IsNaN(phiSum) || phiSum <= 0 {
		return fmt.Errorf("%w: phi_sum %g of node %d", ErrNumeric, phiSum, node)
	}

	grads := pools.GetFloat64s(s.K)[:s.K]
	defer pools.PutFloat64s(grads)
	for k := range grads {
		grads[k] = 0
	}
	probs := pools.GetFloat64s(s.K)[:s.K]
	defer pools.PutFloat64s(probs)

	for ix, neighbour := range neighbours {
		if neighbour == node {
			// A self draw slipped past the sampler; drop it.
			s.log.Warn("skip self loop", logging.VertexID(node), logging.Step(s.StepCount))
			if s.met != nil {
				s.met.SelfNeighbourDraws.Inc()
			}
			continue
		}

		y := s.observation(index, node, neighbour)

		e := 1.0 - s.Epsilon
		if y {
			e = s.Epsilon
		}
		probSum := 0.0
		for k := 0; k < s.K; k++ {
			f := s.Epsilon - s.Beta[k]
			if y {
				f = s.Beta[k] - s.Epsilon
			}
			probs[k] = piNode[k] * (piNbr[ix][k]*f + e)
			probSum += probs[k]
		}

		for k := 0; k < s.K; k++ {
			grads[k] += ((probs[k]/probSum)/piNode[k] - 1.0) / phiSum
		}
	}

	noise := pools.GetFloat64s(s.K)[:s.K]
	defer pools.PutFloat64s(noise)
	rng.NormalVector(noise)

	// With no neighbours to learn from, the update is prior drift plus
	// noise; the gradient scale would divide by zero.
	var nn float64
	if s.numNodeSample > 0 {
		nn = float64(s.N) / float64(s.numNodeSample)
	}

	for k := 0; k < s.K; k++ {
		phiK := piNode[k] * phiSum
		next := math.Abs(phiK + epsT/2.0*(s.Alpha-phiK+nn*grads[k]) +
			math.Sqrt(epsT*phiK)*noise[k])
		if next < MCMCNonzeroGuard {
			next = MCMCNonzeroGuard
		}
		if math.IsNaN(next) {
			return fmt.Errorf("%w: phi[%d][%d] is NaN at step %d", ErrNumeric, node, k, s.StepCount)
		}
		out[k] = next
	}

	return nil
}

// observation answers y for the (node, neighbour) pair: from the full graph
// in replicated mode, from the scattered local subgraph otherwise.
func (s *DistributedSampler) observation(index int, node, neighbour graph.Vertex) bool {
	if s.replicated {
		return s.net.Graph().Contains(graph.NewEdge(node, neighbour))
	}
	return s.localNet.Find(index, neighbour)
}

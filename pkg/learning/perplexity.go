package learning

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dd0wney/sparsebm/pkg/graph"
	"github.com/dd0wney/sparsebm/pkg/logging"
	"github.com/dd0wney/sparsebm/pkg/network"
	"github.com/dd0wney/sparsebm/pkg/parallel"
)

// perpCounts accumulates one class of held-out edges.
type perpCounts struct {
	count      int64
	likelihood float64
}

// perpAccu is one thread's link and non-link accumulators.
type perpAccu struct {
	link    perpCounts
	nonLink perpCounts
}

// perpData is this rank's slice of the held-out set plus evaluation
// scratch.
type perpData struct {
	items []network.EdgeFlag
	// nodes holds the two endpoints of each item, flattened; the pi row of
	// item i sits at 2i and 2i+1.
	nodes []int32
	accu  []perpAccu

	// ppxPerEdge is the running-average likelihood per local held-out
	// edge, smoothed across evaluations.
	ppxPerEdge []float64
	// averageCount is the smoothing divisor; it advances exactly once per
	// perplexity call.
	averageCount float64
}

// initPerplexity scatters the held-out set over the cohort and prepares the
// evaluation scratch. In replicated mode the whole set stays at the master
// so perplexity is centrally calculated.
func (s *DistributedSampler) initPerplexity() error {
	counts := make([]int32, s.coh.Size())
	var triples []int32

	if s.isMaster() {
		items := s.net.HeldOutItems()

		if s.replicated {
			counts[0] = int32(3 * len(items))
		} else {
			base := len(items) / s.coh.Size()
			surplus := len(items) % s.coh.Size()
			for rank := range counts {
				n := base
				if rank < surplus {
					n++
				}
				counts[rank] = int32(3 * n)
			}
		}

		triples = make([]int32, 0, 3*len(items))
		for _, item := range items {
			link := int32(0)
			if item.Link {
				link = 1
			}
			triples = append(triples, item.Edge.First, item.Edge.Second, link)
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

	numItems := len(mine) / 3
	s.perp = &perpData{
		items:        make([]network.EdgeFlag, numItems),
		nodes:        make([]int32, 2*numItems),
		accu:         make([]perpAccu, s.threads),
		ppxPerEdge:   make([]float64, numItems),
		averageCount: 1,
	}
	for i := 0; i < numItems; i++ {
		first, second, link := mine[3*i], mine[3*i+1], mine[3*i+2]
		s.perp.items[i] = network.EdgeFlag{
			Edge: graph.NewEdge(first, second),
			Link: link == 1,
		}
		s.perp.nodes[2*i] = first
		s.perp.nodes[2*i+1] = second
	}

	// Workers that only learned of held-out entries through this scatter
	// still reject them as neighbour candidates.
	if s.net == nil {
		for _, item := range s.perp.items {
			s.heldOutFilter[item.Edge] = struct{}{}
		}
	}

	return nil
}

// checkPerplexity evaluates the held-out perplexity when the cadence says
// so (every interval iterations, counted from the first), or when forced at
// termination. The decision is a pure function of StepCount, so every rank
// agrees on whether to enter the collective.
func (s *DistributedSampler) checkPerplexity(force bool) error {
	if !force && (s.StepCount-1)%s.cfg.Interval != 0 {
		return nil
	}

	var ppx float64
	err := s.timers.perplexity.time(func() error {
		var err error
		ppx, err = s.calPerplexityHeldOut()
		return err
	})
	if err != nil {
		return err
	}

	// Every rank tracks the trajectory so convergence terminates the whole
	// cohort at the same step.
	s.PpxsHeldOut = append(s.PpxsHeldOut, ppx)

	if s.isMaster() {
		elapsed := time.Since(s.started)
		fmt.Printf("step count: %d time: %.3f perplexity for hold out set: %.12f\n",
			s.StepCount, elapsed.Seconds(), ppx)
		if s.met != nil {
			s.met.RecordPerplexity(ppx)
		}
	}
	return nil
}

// calPerplexityHeldOut evaluates this rank's held-out slice in cache-sized
// chunks and all-reduces the link and non-link accumulators.
func (s *DistributedSampler) calPerplexityHeldOut() (float64, error) {
	for i := range s.perp.accu {
		s.perp.accu[i] = perpAccu{}
	}

	for chunkStart := 0; chunkStart < len(s.perp.items); chunkStart += s.maxPerplexityChunk {
		chunk := min(s.maxPerplexityChunk, len(s.perp.items)-chunkStart)

		chunkNodes := s.perp.nodes[2*chunkStart : 2*(chunkStart+chunk)]
		pi := make([][]float64, len(chunkNodes))
		err := s.timers.loadPiPerp.time(func() error {
			return s.readRows(chunkNodes, pi)
		})
		if err != nil {
			return 0, err
		}

		var (
			numMu  sync.Mutex
			numErr error
		)
		parallel.ForEach(chunk, s.threads, func(thread, i int) {
			item := s.perp.items[chunkStart+i]
			ell := s.CalEdgeLikelihood(pi[2*i], pi[2*i+1], item.Link)
			if math.IsNaN(ell) {
				// Log and move on; a single bad edge must not abort the
				// evaluation.
				s.log.Warn("edge likelihood is NaN",
					logging.VertexID(item.Edge.First),
					logging.Int32("second", item.Edge.Second))
				if s.met != nil {
					s.met.NumericAnomalies.WithLabelValues("edge_likelihood").Inc()
				}
				return
			}

			ix := chunkStart + i
			c := s.perp.averageCount
			s.perp.ppxPerEdge[ix] = (s.perp.ppxPerEdge[ix]*(c-1) + ell) / c
			if s.perp.ppxPerEdge[ix] <= 0 {
				numMu.Lock()
				if numErr == nil {
					numErr = fmt.Errorf("%w: smoothed likelihood %g of held-out edge %d",
						ErrNumeric, s.perp.ppxPerEdge[ix], ix)
				}
				numMu.Unlock()
				return
			}

			acc := &s.perp.accu[thread]
			if item.Link {
				acc.link.count++
				acc.link.likelihood += math.Log(s.perp.ppxPerEdge[ix])
			} else {
				acc.nonLink.count++
				acc.nonLink.likelihood += math.Log(s.perp.ppxPerEdge[ix])
			}
		})
		if numErr != nil {
			return 0, numErr
		}

		if err := s.store.Purge(); err != nil {
			return 0, err
		}
	}

	var local perpAccu
	for _, a := range s.perp.accu {
		local.link.count += a.link.count
		local.link.likelihood += a.link.likelihood
		local.nonLink.count += a.nonLink.count
		local.nonLink.likelihood += a.nonLink.likelihood
	}

	counts := []int64{local.link.count, local.nonLink.count}
	likelihoods := []float64{local.link.likelihood, local.nonLink.likelihood}
	err := s.timers.reducePerp.time(func() error {
		if err := s.coh.AllReduceSumInt64(counts); err != nil {
			return err
		}
		return s.coh.AllReduceSumFloat64(likelihoods)
	})
	if err != nil {
		return 0, err
	}

	avg := 0.0
	if counts[0]+counts[1] != 0 {
		avg = (likelihoods[0] + likelihoods[1]) / float64(counts[0]+counts[1])
	}

	s.perp.averageCount++

	return math.Exp(-avg), nil
}

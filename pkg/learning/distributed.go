package learning

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/sparsebm/pkg/cohort"
	"github.com/dd0wney/sparsebm/pkg/config"
	"github.com/dd0wney/sparsebm/pkg/dkv"
	"github.com/dd0wney/sparsebm/pkg/graph"
	"github.com/dd0wney/sparsebm/pkg/logging"
	"github.com/dd0wney/sparsebm/pkg/metrics"
	"github.com/dd0wney/sparsebm/pkg/network"
	"github.com/dd0wney/sparsebm/pkg/parallel"
	"github.com/dd0wney/sparsebm/pkg/randsrc"
)

// networkInfo is the stub the master broadcasts so that workers without a
// replicated graph still know the global constants.
type networkInfo struct {
	n                 int32
	numLinkedEdges    int32
	heldOutSize       int32
	maxMinibatchNodes int32
}

// DistributedSampler runs the stochastic-gradient sampler over a worker
// cohort with the per-vertex state in a distributed KV store.
type DistributedSampler struct {
	Learner

	cfg   config.Config
	coh   cohort.Cohort
	store dkv.Store
	fleet *randsrc.Fleet
	log   logging.Logger
	met   *metrics.Registry

	// net is the full network at the master, and at every rank in
	// replicated mode; nil at workers otherwise.
	net      *network.Network
	localNet LocalNetwork

	strategy       network.Strategy
	numNodeSample  int
	replicated     bool
	masterIsWorker bool
	masterHostsPi  bool
	sharding       dkv.Sharding

	maxMinibatchNodes  int
	maxMinibatchChunk  int
	maxPerplexityChunk int
	threads            int

	// nodes is this worker's minibatch slice, reassigned every iteration.
	nodes []int32

	// heldOutFilter is what this rank knows of H and T, for neighbour
	// rejection. The full maps in replicated mode; the scattered local
	// slice otherwise.
	heldOutFilter map[graph.Edge]struct{}

	// scratch reused across iterations
	phiNode   [][]float64   // per slice node, K
	piUpdate  [][]float64   // per slice node, K+1
	gradsBeta [][]float64   // per thread, 2K flat
	thetaFlat []float64     // 2K broadcast buffer

	perp *perpData

	timers  *timerSet
	started time.Time
}

// NewDistributedSampler wires a sampler for one cohort member. In
// replicated mode every rank loads the graph; otherwise g may be nil except
// at the master.
func NewDistributedSampler(cfg config.Config, g *graph.Graph, coh cohort.Cohort,
	store dkv.Store, log logging.Logger, met *metrics.Registry) (*DistributedSampler, error) {

	strategy, err := network.ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = logging.DefaultLogger()
	}
	runID := uuid.NewString()

	s := &DistributedSampler{
		cfg:   cfg,
		coh:   coh,
		store: store,
		fleet: randsrc.NewFleet(cfg.RandomSeed, coh.Rank(), cfg.Threads),
		log: log.With(logging.Component("sampler"),
			logging.Rank(coh.Rank()), logging.String("run_id", runID)),
		met:        met,
		strategy:   strategy,
		replicated: cfg.ReplicatedGraph,
		threads:    cfg.Threads,
		timers:     newTimerSet(),
	}

	s.Learner = Learner{
		Alpha:         cfg.Alpha,
		Eta:           [2]float64{cfg.Eta0, cfg.Eta1},
		K:             cfg.K,
		Epsilon:       cfg.Epsilon,
		MiniBatchSize: cfg.MiniBatchSize,
		StepCount:     1,
		A:             cfg.A,
		B:             cfg.B,
		C:             cfg.C,
		MaxIteration:  cfg.MaxIteration,
	}

	s.masterIsWorker = cfg.ForcedMasterIsWorker || coh.Size() == 1

	if err := s.init(g); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DistributedSampler) isMaster() bool {
	return s.coh.Rank() == 0
}

// realNumNodeSample is the neighbour set size actually drawn per node. The
// historical sampler produced one extra neighbour beyond num_node_sample
// and every buffer is sized for it; keep the off-by-one.
func (s *DistributedSampler) realNumNodeSample() int {
	return s.numNodeSample + 1
}

func (s *DistributedSampler) init(g *graph.Graph) error {
	var err error

	// Build or receive the network view.
	if s.replicated || s.isMaster() {
		if g == nil {
			return fmt.Errorf("rank %d needs the graph but got none", s.coh.Rank())
		}
		tm := logging.StartTimer(s.log, "network partitioned")
		s.net, err = network.New(g, s.cfg.HoldOutRatio, s.fleet.Source(randsrc.GraphInit))
		if err != nil {
			return err
		}
		s.net.SetNumPieces(s.cfg.NumPieces)
		tm.End()
	}

	info, err := s.broadcastNetworkInfo()
	if err != nil {
		return err
	}
	s.N = info.n
	numLinked := int(info.numLinkedEdges)
	s.LinkRatio = float64(numLinked) / (float64(s.N) * float64(s.N-1) / 2.0)

	if s.MiniBatchSize < 1 {
		s.MiniBatchSize = int(s.N) / 2
	}
	s.numNodeSample = s.cfg.NumNodeSample
	if s.numNodeSample == 0 {
		s.numNodeSample = int(s.N) / 50
	}

	s.maxMinibatchNodes = int(info.maxMinibatchNodes)

	maxPiCache := s.cfg.MaxPiCacheEntries
	if maxPiCache == 0 {
		maxPiCache = defaultPiCacheEntries(s.K)
	}

	s.sharding = dkv.NewSharding(s.coh.Size(), s.masterIsWorker)
	workers := s.sharding.Workers()

	// The pi cache hosts a chunked subset of minibatch nodes plus all their
	// sampled neighbours.
	s.maxMinibatchChunk = maxPiCache / (1 + s.realNumNodeSample())
	maxMyMinibatchNodes := min(s.maxMinibatchChunk,
		(s.maxMinibatchNodes+workers-1)/workers)
	maxMinibatchNeighbors := maxMyMinibatchNodes * s.realNumNodeSample()

	// Perplexity caches the two pi rows of each held-out edge. In
	// replicated mode the whole held-out set is evaluated at the master;
	// otherwise it is sharded evenly.
	s.maxPerplexityChunk = maxPiCache / 2
	var numPerpNodes int
	switch {
	case s.replicated && s.isMaster():
		numPerpNodes = 2 * int(info.heldOutSize)
	case s.replicated:
		numPerpNodes = 0
	default:
		numPerpNodes = (2*int(info.heldOutSize) + s.coh.Size() - 1) / s.coh.Size()
	}
	maxMyPerpNodes := min(2*s.maxPerplexityChunk, numPerpNodes)

	if s.isMaster() {
		// The master bulk-reads pi for its theta-update edge slice.
		maxMinibatchNeighbors = max(maxMinibatchNeighbors, s.maxMinibatchNodes)
		if maxMinibatchNeighbors > maxPiCache {
			return fmt.Errorf("%w: theta update needs %d rows, cache holds %d",
				ErrCacheTooSmall, maxMinibatchNeighbors, maxPiCache)
		}
	}

	cacheRows := max(maxMyMinibatchNodes+maxMinibatchNeighbors, maxMyPerpNodes)

	s.log.Info("sized pi cache",
		logging.Int("minibatch_max_nodes", s.maxMinibatchNodes),
		logging.Int("minibatch_chunk", s.maxMinibatchChunk),
		logging.Int("cache_rows", cacheRows),
		logging.Int("write_rows", maxMyMinibatchNodes))

	if err := s.store.Init(s.K+1, int(s.N), cacheRows, max(maxMyMinibatchNodes, 1)); err != nil {
		return err
	}
	s.masterHostsPi = s.store.IncludeMaster()

	s.log.Info("store topology",
		logging.Bool("master_is_worker", s.masterIsWorker),
		logging.Bool("master_hosts_pi", s.masterHostsPi))

	// Model state.
	s.Beta = make([]float64, s.K)
	s.thetaFlat = make([]float64, 2*s.K)
	if s.isMaster() {
		s.initBeta()
	}

	s.initHeldOutFilter()
	if err := s.initPerplexity(); err != nil {
		return err
	}

	tm := logging.StartTimer(s.log, "pi populated")
	if err := s.initPi(); err != nil {
		return err
	}
	tm.End()

	// Iteration scratch.
	s.phiNode = make([][]float64, s.maxMinibatchNodes)
	s.piUpdate = make([][]float64, s.maxMinibatchNodes)
	for i := range s.piUpdate {
		s.phiNode[i] = make([]float64, s.K)
		s.piUpdate[i] = make([]float64, s.K+1)
	}
	s.gradsBeta = make([][]float64, s.threads)
	for i := range s.gradsBeta {
		s.gradsBeta[i] = make([]float64, 2*s.K)
	}

	return nil
}

// broadcastNetworkInfo shares the global constants from the master. In
// replicated mode the broadcast still runs, as a cross-check that every
// rank derived the same network.
func (s *DistributedSampler) broadcastNetworkInfo() (networkInfo, error) {
	buf := make([]int32, 4)
	if s.net != nil {
		buf[0] = s.net.NumNodes()
		buf[1] = int32(s.net.NumLinkedEdges())
		buf[2] = int32(s.net.HeldOutSize())
		buf[3] = int32(s.net.MaxMinibatchNodes(s.strategy, s.effectiveMiniBatchSize()))
	}
	master := make([]int32, 4)
	copy(master, buf)
	bytes := encodeInt32sAsBytes(master)
	if err := s.coh.BroadcastBytes(bytes, 0); err != nil {
		return networkInfo{}, err
	}
	decodeInt32sFromBytes(bytes, master)

	if s.net != nil && (master[0] != buf[0] || master[1] != buf[1]) {
		return networkInfo{}, fmt.Errorf("replicated network diverged: N %d vs %d, |E| %d vs %d",
			buf[0], master[0], buf[1], master[1])
	}
	return networkInfo{
		n:                 master[0],
		numLinkedEdges:    master[1],
		heldOutSize:       master[2],
		maxMinibatchNodes: master[3],
	}, nil
}

func (s *DistributedSampler) effectiveMiniBatchSize() int {
	if s.cfg.MiniBatchSize < 1 && s.net != nil {
		return int(s.net.NumNodes()) / 2
	}
	return s.cfg.MiniBatchSize
}

// initBeta draws theta from Gamma(eta0, eta1) and derives beta.
func (s *DistributedSampler) initBeta() {
	rng := s.fleet.Source(randsrc.ThetaInit)
	s.Theta = rng.GammaMatrix(s.Eta[0], s.Eta[1], s.K, 2)
	for k := 0; k < s.K; k++ {
		s.thetaFlat[2*k] = s.Theta[k][0]
		s.thetaFlat[2*k+1] = s.Theta[k][1]
	}
	s.BetaFromTheta(s.thetaFlat)
}

// initPi draws phi rows from Gamma(1, 1), normalises, and stripes them over
// the store: rank r initialises keys r, r+S, r+2S, ...
func (s *DistributedSampler) initPi() error {
	rng := s.fleet.RankSource(randsrc.PhiInit)
	phi := make([]float64, s.K)
	row := make([]float64, s.K+1)

	keys := make([]int32, 1)
	rows := [][]float64{row}

	for i := int32(s.coh.Rank()); i < s.N; i += int32(s.coh.Size()) {
		rng.GammaVector(1.0, 1.0, phi)
		piFromPhi(row, phi)
		keys[0] = i
		if err := s.store.Write(keys, rows); err != nil {
			return err
		}
		if err := s.store.Purge(); err != nil {
			return err
		}
	}

	// Everyone sees a fully initialised pi before the first read.
	return s.store.Barrier()
}

// piFromPhi writes pi[0..K) ++ phi_sum into row from phi[0..K).
func piFromPhi(row []float64, phi []float64) {
	sum := 0.0
	for _, v := range phi {
		sum += v
	}
	for k, v := range phi {
		row[k] = v / sum
	}
	row[len(phi)] = sum
}

// initHeldOutFilter builds the neighbour-rejection view of H and T.
func (s *DistributedSampler) initHeldOutFilter() {
	s.heldOutFilter = make(map[graph.Edge]struct{})
	if s.net != nil {
		for _, item := range s.net.HeldOutItems() {
			s.heldOutFilter[item.Edge] = struct{}{}
		}
		for _, item := range s.net.TestItems() {
			s.heldOutFilter[item.Edge] = struct{}{}
		}
	}
}

// defaultPiCacheEntries derives the cache size from system memory the way
// operators expect: a thirty-second of RAM worth of K+1-float rows.
func defaultPiCacheEntries(k int) int {
	const fallback = 1 << 20

	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return fallback
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return fallback
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return fallback
		}
		piTotal := (1024 * kb) / int64((k+1)*8)
		return int(piTotal / 32)
	}
	return fallback
}

func encodeInt32sAsBytes(vals []int32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		buf[4*i] = byte(v)
		buf[4*i+1] = byte(v >> 8)
		buf[4*i+2] = byte(v >> 16)
		buf[4*i+3] = byte(v >> 24)
	}
	return buf
}

func decodeInt32sFromBytes(buf []byte, out []int32) {
	for i := range out {
		out[i] = int32(buf[4*i]) | int32(buf[4*i+1])<<8 |
			int32(buf[4*i+2])<<16 | int32(buf[4*i+3])<<24
	}
}

// Run executes the sampler until convergence or the iteration bound.
func (s *DistributedSampler) Run() error {
	if err := s.coh.Barrier(); err != nil {
		return err
	}
	s.started = time.Now()

	for s.StepCount < s.MaxIteration && !s.IsConverged() {
		iterStart := time.Now()

		// Theta moved at the master last iteration; re-derive beta
		// everywhere.
		err := s.timers.broadcastTheta.time(func() error {
			if s.isMaster() {
				for k := 0; k < s.K; k++ {
					s.thetaFlat[2*k] = s.Theta[k][0]
					s.thetaFlat[2*k+1] = s.Theta[k][1]
				}
			}
			if err := s.coh.BroadcastFloat64(s.thetaFlat, 0); err != nil {
				return err
			}
			s.BetaFromTheta(s.thetaFlat)
			return nil
		})
		if err != nil {
			return err
		}

		// Perplexity reads the pi snapshot of the previous iteration,
		// before any mutation below. Its all-reduce doubles as a barrier.
		if err := s.checkPerplexity(false); err != nil {
			return err
		}

		var batch *network.MiniBatch
		err = s.timers.deployMinibatch.time(func() error {
			batch, err = s.deployMiniBatch()
			return err
		})
		if err != nil {
			return err
		}

		if err := s.updatePhi(); err != nil {
			return err
		}

		// Every worker must finish reading this iteration's pi before
		// anyone publishes the next.
		if err := s.timers.barrierPhi.time(s.store.Barrier); err != nil {
			return err
		}

		err = s.timers.updatePi.time(func() error {
			return s.updatePi()
		})
		if err != nil {
			return err
		}

		if err := s.timers.barrierPi.time(s.store.Barrier); err != nil {
			return err
		}

		err = s.timers.updateBeta.time(func() error {
			return s.updateBeta(batch)
		})
		if err != nil {
			return err
		}

		s.StepCount++
		s.timers.outer.add(time.Since(iterStart))
		if s.met != nil {
			s.met.RecordIteration(time.Since(iterStart))
		}
	}

	if err := s.coh.Barrier(); err != nil {
		return err
	}
	if err := s.checkPerplexity(true); err != nil {
		return err
	}
	if err := s.coh.Barrier(); err != nil {
		return err
	}

	s.timers.report(s.log)
	return nil
}

// deployMiniBatch samples at the master, partitions the unique nodes over
// the workers with ownership preference, and scatters each worker its
// slice, plus the subgraph when the graph is not replicated.
func (s *DistributedSampler) deployMiniBatch() (*network.MiniBatch, error) {
	var batch *network.MiniBatch
	counts := make([]int32, s.coh.Size())
	var flat []int32
	var sub [][]int32

	if s.isMaster() {
		var err error
		batch, err = s.net.SampleMiniBatch(s.strategy, s.MiniBatchSize,
			s.fleet.Source(randsrc.GraphInit))
		if err != nil {
			return nil, err
		}
		nodes := batch.Nodes()
		if s.met != nil {
			s.met.RecordMinibatch(batch.Len(), len(nodes))
		}

		sub = s.partitionNodes(nodes)

		flat = make([]int32, 0, len(nodes))
		for rank, chunk := range sub {
			counts[rank] = int32(len(chunk))
			flat = append(flat, chunk...)
		}
	}

	myCount := make([]int32, 1)
	if err := s.coh.ScatterInt32(counts, myCount, 0); err != nil {
		return nil, err
	}
	s.nodes = resizeInt32(s.nodes, int(myCount[0]))
	if err := s.coh.ScattervInt32(flat, counts, s.nodes, 0); err != nil {
		return nil, err
	}

	if !s.replicated {
		if err := s.scatterSubGraph(sub); err != nil {
			return nil, err
		}
	}

	return batch, nil
}

// partitionNodes assigns minibatch nodes to workers: to the pi owner while
// its slice has room under the ceil(nodes/workers) bound; spillover goes to
// the lowest-ranked worker slice that still has room.
func (s *DistributedSampler) partitionNodes(nodes []graph.Vertex) [][]int32 {
	sub := make([][]int32, s.coh.Size())
	workers := s.sharding.Workers()
	upperBound := (len(nodes) + workers - 1) / workers

	var unassigned []int32
	for _, n := range nodes {
		owner := s.nodeOwner(n)
		if len(sub[owner]) >= upperBound {
			unassigned = append(unassigned, n)
		} else {
			sub[owner] = append(sub[owner], n)
		}
	}

	first := 0
	if !s.masterIsWorker {
		first = 1
	}
	i := first
	for _, n := range unassigned {
		for len(sub[i]) >= upperBound {
			i++
		}
		sub[i] = append(sub[i], n)
	}
	return sub
}

// nodeOwner returns the rank whose pi shard holds the node.
func (s *DistributedSampler) nodeOwner(n graph.Vertex) int {
	return s.sharding.Owner(n)
}

// scatterSubGraph sends every worker the adjacency of each node in its
// slice: first the fan-out counts, then the flattened sorted neighbour
// lists, both via scatterv.
func (s *DistributedSampler) scatterSubGraph(sub [][]int32) error {
	s.localNet.Reset()

	sizeCounts := make([]int32, s.coh.Size())
	subgraphCounts := make([]int32, s.coh.Size())
	var fanOuts []int32
	var subgraph []int32

	if s.isMaster() {
		g := s.net.Graph()
		for rank, chunk := range sub {
			sizeCounts[rank] = int32(len(chunk))
			total := int32(0)
			for _, n := range chunk {
				fo := int32(g.FanOut(n))
				fanOuts = append(fanOuts, fo)
				total += fo
			}
			subgraphCounts[rank] = total
		}
		subgraph = make([]int32, sum32(subgraphCounts))
		marshalled := 0
		for _, chunk := range sub {
			for _, n := range chunk {
				marshalled += g.MarshallEdgesFrom(n, subgraph[marshalled:])
			}
		}
	}

	mySizes := make([]int32, len(s.nodes))
	if err := s.coh.ScattervInt32(fanOuts, sizeCounts, mySizes, 0); err != nil {
		return err
	}

	myFlat := make([]int32, sum32Slice(mySizes))
	if err := s.coh.ScattervInt32(subgraph, subgraphCounts, myFlat, 0); err != nil {
		return err
	}

	offset := int32(0)
	for i, size := range mySizes {
		s.localNet.Unmarshall(i, myFlat[offset:offset+size])
		offset += size
	}
	return nil
}

// updatePi renormalises each slice node's new phi into a pi row and
// publishes it.
func (s *DistributedSampler) updatePi() error {
	parallel.ForEach(len(s.nodes), s.threads, func(_, i int) {
		piFromPhi(s.piUpdate[i], s.phiNode[i])
	})

	err := s.timers.storePi.time(func() error {
		return s.store.Write(s.nodes, s.piUpdate[:len(s.nodes)])
	})
	if err != nil {
		return err
	}
	return s.store.Purge()
}

func resizeInt32(s []int32, n int) []int32 {
	if cap(s) < n {
		return make([]int32, n)
	}
	return s[:n]
}

func sum32(s []int32) int32 {
	var t int32
	for _, v := range s {
		t += v
	}
	return t
}

func sum32Slice(s []int32) int {
	t := 0
	for _, v := range s {
		t += int(v)
	}
	return t
}

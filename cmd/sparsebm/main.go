// Command sparsebm runs the distributed stochastic sampler for the
// assortative mixed-membership blockmodel over a compact binary graph
// dataset.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"sync"

	"github.com/dd0wney/sparsebm/pkg/cohort"
	"github.com/dd0wney/sparsebm/pkg/config"
	"github.com/dd0wney/sparsebm/pkg/dkv"
	"github.com/dd0wney/sparsebm/pkg/graph"
	"github.com/dd0wney/sparsebm/pkg/learning"
	"github.com/dd0wney/sparsebm/pkg/logging"
	"github.com/dd0wney/sparsebm/pkg/metrics"
	"github.com/dd0wney/sparsebm/pkg/network"
)

// Exit codes per error class.
const (
	exitOK        = 0
	exitConfig    = 2
	exitIO        = 3
	exitTransport = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Default()

	configPath := flag.String("config", "", "YAML config file; flags override it")
	flag.IntVar(&cfg.K, "K", cfg.K, "number of communities")
	flag.Float64Var(&cfg.Alpha, "alpha", cfg.Alpha, "Dirichlet prior on pi")
	flag.Float64Var(&cfg.Eta0, "eta0", cfg.Eta0, "Beta prior eta0")
	flag.Float64Var(&cfg.Eta1, "eta1", cfg.Eta1, "Beta prior eta1")
	flag.Float64Var(&cfg.Epsilon, "epsilon", cfg.Epsilon, "link sparsity prior")
	flag.IntVar(&cfg.MiniBatchSize, "mini-batch-size", cfg.MiniBatchSize, "minibatch size b; 0 means N/2")
	flag.IntVar(&cfg.MaxIteration, "max-iteration", cfg.MaxIteration, "iteration bound")
	flag.Float64Var(&cfg.A, "a", cfg.A, "Robbins-Monro a")
	flag.Float64Var(&cfg.B, "b", cfg.B, "Robbins-Monro b")
	flag.Float64Var(&cfg.C, "c", cfg.C, "Robbins-Monro c")
	flag.Float64Var(&cfg.HoldOutRatio, "hold-out-prob", cfg.HoldOutRatio, "held-out edge ratio")
	flag.IntVar(&cfg.NumNodeSample, "num-node-sample", cfg.NumNodeSample, "neighbours per node; 0 means N/50")
	flag.StringVar(&cfg.Strategy, "strategy", cfg.Strategy, "minibatch strategy")
	flag.IntVar(&cfg.NumPieces, "num-pieces", cfg.NumPieces, "stratified-random-node non-link pieces")
	flag.Uint64Var(&cfg.RandomSeed, "random-seed", cfg.RandomSeed, "base random seed")
	flag.IntVar(&cfg.Interval, "interval", cfg.Interval, "perplexity cadence in iterations")
	flag.StringVar(&cfg.InputFile, "input-file", cfg.InputFile, "dataset path or s3:// URI")
	flag.StringVar(&cfg.DumpFile, "dump-file", cfg.DumpFile, "re-dump the dataset here after loading")
	flag.BoolVar(&cfg.ReplicatedGraph, "replicated-graph", cfg.ReplicatedGraph, "every worker holds the full graph")
	flag.BoolVar(&cfg.ForcedMasterIsWorker, "master-is-worker", cfg.ForcedMasterIsWorker, "force rank 0 to take minibatch work")
	flag.IntVar(&cfg.MaxPiCacheEntries, "max-pi-cache-entries", cfg.MaxPiCacheEntries, "pi cache rows; 0 derives from memory")
	flag.IntVar(&cfg.Threads, "threads", cfg.Threads, "worker threads per member")

	dkvType := flag.String("dkv-type", string(cfg.DKV.Type), "dkv transport: file|rpc|rdma")
	flag.StringVar(&cfg.DKV.File.Dir, "dkv-file-dir", cfg.DKV.File.Dir, "file transport directory")
	dkvPeers := flag.String("dkv-rpc-peers", "", "comma-separated host:port per rank for the rpc transport")
	flag.StringVar(&cfg.DKV.RDMA.Fabric, "dkv-rdma-fabric", cfg.DKV.RDMA.Fabric, "rdma fabric provider")
	flag.IntVar(&cfg.DKV.RDMA.Port, "dkv-rdma-port", cfg.DKV.RDMA.Port, "rdma service port")

	cohortType := flag.String("cohort-type", string(cfg.Cohort.Type), "cohort transport: local|nng")
	flag.IntVar(&cfg.Cohort.Size, "cohort-size", cfg.Cohort.Size, "number of cohort members")
	flag.IntVar(&cfg.Cohort.Rank, "cohort-rank", cfg.Cohort.Rank, "this member's rank")
	flag.StringVar(&cfg.Cohort.MasterHost, "cohort-master-host", cfg.Cohort.MasterHost, "master host for the nng cohort")
	flag.IntVar(&cfg.Cohort.BasePort, "cohort-base-port", cfg.Cohort.BasePort, "base port for the nng cohort")

	flag.Parse()

	log := logging.NewDefaultLogger()

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if *configPath != "" {
		fileCfg := config.Default()
		if err := fileCfg.LoadFile(*configPath); err != nil {
			log.Error("config load failed", logging.Error(err))
			return exitConfig
		}
		// The file forms the base; explicit flags stay on top.
		base := fileCfg
		applySetFlags(&base, &cfg, set)
		cfg = base
	}
	if *configPath == "" || set["cohort-type"] {
		cfg.Cohort.Type = config.CohortType(*cohortType)
	}
	if *configPath == "" || set["dkv-type"] {
		parsedType, err := dkv.ParseType(*dkvType)
		if err != nil {
			log.Error("bad dkv type", logging.Error(err))
			return exitConfig
		}
		cfg.DKV.Type = parsedType
	}
	if *dkvPeers != "" {
		cfg.DKV.RPC.Peers = splitComma(*dkvPeers)
	}

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", logging.Error(err))
		return exitConfig
	}

	return execute(cfg, log)
}

// applySetFlags copies the values of flags the user actually passed from
// flagCfg onto base.
func applySetFlags(base, flagCfg *config.Config, set map[string]bool) {
	if set["K"] {
		base.K = flagCfg.K
	}
	if set["alpha"] {
		base.Alpha = flagCfg.Alpha
	}
	if set["eta0"] {
		base.Eta0 = flagCfg.Eta0
	}
	if set["eta1"] {
		base.Eta1 = flagCfg.Eta1
	}
	if set["epsilon"] {
		base.Epsilon = flagCfg.Epsilon
	}
	if set["mini-batch-size"] {
		base.MiniBatchSize = flagCfg.MiniBatchSize
	}
	if set["max-iteration"] {
		base.MaxIteration = flagCfg.MaxIteration
	}
	if set["a"] {
		base.A = flagCfg.A
	}
	if set["b"] {
		base.B = flagCfg.B
	}
	if set["c"] {
		base.C = flagCfg.C
	}
	if set["hold-out-prob"] {
		base.HoldOutRatio = flagCfg.HoldOutRatio
	}
	if set["num-node-sample"] {
		base.NumNodeSample = flagCfg.NumNodeSample
	}
	if set["strategy"] {
		base.Strategy = flagCfg.Strategy
	}
	if set["num-pieces"] {
		base.NumPieces = flagCfg.NumPieces
	}
	if set["random-seed"] {
		base.RandomSeed = flagCfg.RandomSeed
	}
	if set["interval"] {
		base.Interval = flagCfg.Interval
	}
	if set["input-file"] {
		base.InputFile = flagCfg.InputFile
	}
	if set["dump-file"] {
		base.DumpFile = flagCfg.DumpFile
	}
	if set["replicated-graph"] {
		base.ReplicatedGraph = flagCfg.ReplicatedGraph
	}
	if set["master-is-worker"] {
		base.ForcedMasterIsWorker = flagCfg.ForcedMasterIsWorker
	}
	if set["max-pi-cache-entries"] {
		base.MaxPiCacheEntries = flagCfg.MaxPiCacheEntries
	}
	if set["threads"] {
		base.Threads = flagCfg.Threads
	}
	if set["cohort-size"] {
		base.Cohort.Size = flagCfg.Cohort.Size
	}
	if set["cohort-rank"] {
		base.Cohort.Rank = flagCfg.Cohort.Rank
	}
	if set["cohort-master-host"] {
		base.Cohort.MasterHost = flagCfg.Cohort.MasterHost
	}
	if set["cohort-base-port"] {
		base.Cohort.BasePort = flagCfg.Cohort.BasePort
	}
	if set["dkv-file-dir"] {
		base.DKV.File.Dir = flagCfg.DKV.File.Dir
	}
	if set["dkv-rdma-fabric"] {
		base.DKV.RDMA.Fabric = flagCfg.DKV.RDMA.Fabric
	}
	if set["dkv-rdma-port"] {
		base.DKV.RDMA.Port = flagCfg.DKV.RDMA.Port
	}
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func execute(cfg config.Config, log logging.Logger) int {
	g, code := loadGraph(cfg, log)
	if code != exitOK {
		return code
	}

	if cfg.DumpFile != "" && cfg.Cohort.Rank == 0 && g != nil {
		if err := g.Save(cfg.DumpFile); err != nil {
			log.Error("dataset dump failed", logging.Error(err))
			return exitIO
		}
		log.Info("dataset dumped", logging.Path(cfg.DumpFile))
	}

	if cfg.Cohort.Type == config.CohortLocal && cfg.Cohort.Size > 1 {
		return runLocalGroup(cfg, g, log)
	}

	var coh cohort.Cohort
	switch cfg.Cohort.Type {
	case config.CohortLocal:
		coh = cohort.NewLocalGroup(1)[0]
	case config.CohortNNG:
		var err error
		coh, err = cohort.NewNNG(cohort.NNGConfig{
			Rank:       cfg.Cohort.Rank,
			Size:       cfg.Cohort.Size,
			MasterHost: cfg.Cohort.MasterHost,
			BasePort:   cfg.Cohort.BasePort,
		})
		if err != nil {
			log.Error("cohort connect failed", logging.Error(err))
			return exitTransport
		}
	}
	defer coh.Close()

	return runMember(cfg, g, coh, log)
}

// loadGraph reads the dataset at the ranks that need it: every rank in
// replicated mode, the master otherwise.
func loadGraph(cfg config.Config, log logging.Logger) (*graph.Graph, int) {
	if !cfg.ReplicatedGraph && cfg.Cohort.Rank != 0 {
		return nil, exitOK
	}

	var g *graph.Graph
	var err error
	if graph.IsS3URI(cfg.InputFile) {
		g, err = graph.LoadS3(context.Background(), cfg.InputFile)
	} else {
		g, err = graph.Load(cfg.InputFile)
	}
	if err != nil {
		log.Error("dataset load failed", logging.Error(err))
		return nil, exitIO
	}

	log.Info("dataset loaded",
		logging.Path(cfg.InputFile),
		logging.Int("nodes", int(g.NumNodes())),
		logging.Int("edges", g.NumEdges()))
	return g, exitOK
}

// runLocalGroup emulates the whole cohort inside one process, one member
// per goroutine over the in-process transport.
func runLocalGroup(cfg config.Config, g *graph.Graph, log logging.Logger) int {
	members := cohort.NewLocalGroup(cfg.Cohort.Size)

	codes := make([]int, cfg.Cohort.Size)
	var wg sync.WaitGroup
	for rank, coh := range members {
		memberCfg := cfg
		memberCfg.Cohort.Rank = rank
		wg.Add(1)
		go func(rank int, coh cohort.Cohort) {
			defer wg.Done()
			defer coh.Close()
			codes[rank] = runMember(memberCfg, g, coh, log)
		}(rank, coh)
	}
	wg.Wait()

	for _, code := range codes {
		if code != exitOK {
			return code
		}
	}
	return exitOK
}

func runMember(cfg config.Config, g *graph.Graph, coh cohort.Cohort, log logging.Logger) int {
	masterIsWorker := cfg.ForcedMasterIsWorker || coh.Size() == 1

	store, err := dkv.New(cfg.DKV, coh, masterIsWorker, log)
	if err != nil {
		log.Error("dkv store setup failed", logging.Error(err))
		return classify(err)
	}
	defer store.Close()

	sampler, err := learning.NewDistributedSampler(cfg, g, coh, store, log, metrics.NewRegistry())
	if err != nil {
		log.Error("sampler setup failed", logging.Error(err))
		return classify(err)
	}

	if err := sampler.Run(); err != nil {
		log.Error("run failed", logging.Error(err))
		return classify(err)
	}

	log.Info("run complete", logging.Step(sampler.StepCount))
	return exitOK
}

// classify maps an error to its exit code.
func classify(err error) int {
	switch {
	case errors.Is(err, network.ErrNotEnoughLinks),
		errors.Is(err, network.ErrUnknownStrategy),
		errors.Is(err, dkv.ErrUnknownType),
		errors.Is(err, dkv.ErrTransportUnavailable):
		return exitConfig
	case errors.Is(err, graph.ErrMalformedDataset),
		errors.Is(err, graph.ErrVertexRange):
		return exitIO
	case errors.Is(err, cohort.ErrTransport),
		errors.Is(err, dkv.ErrTransport),
		errors.Is(err, dkv.ErrBufferOverflow):
		return exitTransport
	default:
		return 1
	}
}

package network

import (
	"fmt"

	"github.com/dd0wney/sparsebm/pkg/graph"
	"github.com/dd0wney/sparsebm/pkg/randsrc"
)

// Strategy selects how a training minibatch is drawn.
type Strategy int

const (
	// RandomPair reject-samples node pairs uniformly.
	RandomPair Strategy = iota
	// RandomNode picks one node and takes all its pairs.
	RandomNode
	// StratifiedRandomPair coin-flips between a batch of linked edges and a
	// batch of non-link edges.
	StratifiedRandomPair
	// StratifiedRandomNode picks one node and coin-flips between all its
	// training links and one piece of its non-links.
	StratifiedRandomNode
)

// String returns the CLI name of the strategy.
func (s Strategy) String() string {
	switch s {
	case RandomPair:
		return "random-pair"
	case RandomNode:
		return "random-node"
	case StratifiedRandomPair:
		return "stratified-random-pair"
	case StratifiedRandomNode:
		return "stratified-random-node"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a CLI name to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "random-pair":
		return RandomPair, nil
	case "random-node":
		return RandomNode, nil
	case "stratified-random-pair":
		return StratifiedRandomPair, nil
	case "stratified-random-node":
		return StratifiedRandomNode, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// MiniBatch is one stochastic sample of training edges with the scale
// factor 1/h(x) that makes its gradient unbiased.
type MiniBatch struct {
	Edges []graph.Edge
	Scale float64

	set map[graph.Edge]struct{}
}

func newMiniBatch(capacity int) *MiniBatch {
	return &MiniBatch{
		Edges: make([]graph.Edge, 0, capacity),
		set:   make(map[graph.Edge]struct{}, capacity),
	}
}

func (m *MiniBatch) add(e graph.Edge) bool {
	if _, dup := m.set[e]; dup {
		return false
	}
	m.set[e] = struct{}{}
	m.Edges = append(m.Edges, e)
	return true
}

// Contains reports whether the canonical edge is already in the batch.
func (m *MiniBatch) Contains(e graph.Edge) bool {
	_, ok := m.set[e]
	return ok
}

// Len returns the number of edges in the batch.
func (m *MiniBatch) Len() int {
	return len(m.Edges)
}

// Nodes returns the unique endpoints of the batch, in first-seen order.
func (m *MiniBatch) Nodes() []graph.Vertex {
	seen := make(map[graph.Vertex]struct{}, 2*len(m.Edges))
	nodes := make([]graph.Vertex, 0, 2*len(m.Edges))
	for _, e := range m.Edges {
		if _, ok := seen[e.First]; !ok {
			seen[e.First] = struct{}{}
			nodes = append(nodes, e.First)
		}
		if _, ok := seen[e.Second]; !ok {
			seen[e.Second] = struct{}{}
			nodes = append(nodes, e.Second)
		}
	}
	return nodes
}

// SampleMiniBatch draws one minibatch with the given strategy.
func (n *Network) SampleMiniBatch(strategy Strategy, size int, rng *randsrc.Random) (*MiniBatch, error) {
	switch strategy {
	case RandomPair:
		return n.randomPairSampling(size, rng), nil
	case RandomNode:
		return n.randomNodeSampling(rng), nil
	case StratifiedRandomPair:
		return n.stratifiedRandomPairSampling(size, rng), nil
	case StratifiedRandomNode:
		return n.stratifiedRandomNodeSampling(n.numPieces, rng), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, strategy)
	}
}

// randomPairSampling reject-samples size distinct edges regardless of link
// status. scale = N(N-1) / (2 * size).
func (n *Network) randomPairSampling(size int, rng *randsrc.Random) *MiniBatch {
	batch := newMiniBatch(size)

	for p := size; p > 0; {
		first := rng.UniformInt(0, n.n-1)
		second := rng.UniformInt(0, n.n-1)
		if first == second {
			continue
		}
		e := graph.NewEdge(first, second)
		if n.InHeldOut(e) || n.InTest(e) || batch.Contains(e) {
			continue
		}
		batch.add(e)
		p--
	}

	batch.Scale = float64(n.n) * float64(n.n-1) / (2.0 * float64(size))
	return batch
}

// randomNodeSampling takes every pair involving one uniformly chosen node.
// scale = N.
func (n *Network) randomNodeSampling(rng *randsrc.Random) *MiniBatch {
	batch := newMiniBatch(int(n.n))

	node := rng.UniformInt(0, n.n-1)
	for i := int32(0); i < n.n; i++ {
		if i == node {
			continue
		}
		e := graph.NewEdge(node, i)
		if n.InHeldOut(e) || n.InTest(e) || batch.Contains(e) {
			continue
		}
		batch.add(e)
	}

	batch.Scale = float64(n.n)
	return batch
}

// stratifiedRandomPairSampling coin-flips between linked and non-link edge
// batches. scale = |E|/size for the link branch; the non-link branch keeps
// the historical N(N-1)/2 - |E|/size expression.
func (n *Network) stratifiedRandomPairSampling(size int, rng *randsrc.Random) *MiniBatch {
	batch := newMiniBatch(size)
	flag := rng.UniformInt(0, 1)

	if flag == 0 {
		// Oversample 2x from E; held-out and test entries get filtered out.
		p := size
		for _, ix := range rng.SampleIndices(2*size, len(n.links)) {
			if p == 0 {
				break
			}
			e := n.links[ix]
			if n.InHeldOut(e) || n.InTest(e) || batch.Contains(e) {
				continue
			}
			batch.add(e)
			p--
		}
		batch.Scale = float64(len(n.links)) / float64(size)
		return batch
	}

	for p := size; p > 0; {
		first := rng.UniformInt(0, n.n-1)
		second := rng.UniformInt(0, n.n-1)
		if first == second {
			continue
		}
		e := graph.NewEdge(first, second)
		if n.g.Contains(e) || n.InHeldOut(e) || n.InTest(e) || batch.Contains(e) {
			continue
		}
		batch.add(e)
		p--
	}
	batch.Scale = float64(n.n)*float64(n.n-1)/2.0 - float64(len(n.links))/float64(size)
	return batch
}

// stratifiedRandomNodeSampling picks one node, then coin-flips: the link
// branch returns all its training links (scale = N); the non-link branch
// reject-samples (N - |trainLinks|) / pieces non-link neighbours
// (scale = N * pieces).
func (n *Network) stratifiedRandomNodeSampling(pieces int, rng *randsrc.Random) *MiniBatch {
	node := rng.UniformInt(0, n.n-1)
	// flag=0: non-link edges, flag=1: link edges
	flag := rng.UniformInt(0, 1)

	if flag == 1 {
		links := n.trainLinks[node]
		batch := newMiniBatch(len(links))
		for _, neighbour := range links {
			batch.add(graph.NewEdge(node, neighbour))
		}
		batch.Scale = float64(n.n)
		return batch
	}

	// The train-link fan-out is a close stand-in for the full fan-out here;
	// the graph is sparse.
	size := (int(n.n) - len(n.trainLinks[node])) / pieces
	batch := newMiniBatch(size)

	for p := size; p > 0; {
		// Drawing 2x candidates per round usually yields enough valid
		// neighbours in one pass.
		for _, neighbour := range rng.SampleDistinct(2*size, n.n) {
			if p == 0 {
				break
			}
			if neighbour == node {
				continue
			}
			e := graph.NewEdge(node, neighbour)
			if n.g.Contains(e) || n.InHeldOut(e) || n.InTest(e) || batch.Contains(e) {
				continue
			}
			batch.add(e)
			p--
		}
	}

	batch.Scale = float64(n.n) * float64(pieces)
	return batch
}

// MaxMinibatchNodes returns a tight upper bound on the unique-node count of
// any minibatch the strategy can produce, for buffer sizing.
func (n *Network) MaxMinibatchNodes(strategy Strategy, size int) int {
	switch strategy {
	case RandomPair, StratifiedRandomPair:
		return 2 * size
	case RandomNode:
		return int(n.n)
	case StratifiedRandomNode:
		maxFanOut := 0
		for v := int32(0); v < n.n; v++ {
			if f := len(n.trainLinks[v]); f > maxFanOut {
				maxFanOut = f
			}
		}
		nonLink := int(n.n) / n.numPieces
		if maxFanOut > nonLink {
			return 1 + maxFanOut
		}
		return 1 + nonLink
	default:
		return int(n.n)
	}
}

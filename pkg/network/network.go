// Package network layers the training view over the immutable graph: the
// held-out and test partitions, the train-link map, and the stratified
// minibatch samplers.
package network

import (
	"fmt"
	"slices"

	"github.com/dd0wney/sparsebm/pkg/graph"
	"github.com/dd0wney/sparsebm/pkg/randsrc"
)

// EdgeFlag is a held-out or test entry: the edge and whether it is a real
// link (positive) or a sampled non-link (negative).
type EdgeFlag struct {
	Edge graph.Edge
	Link bool
}

// Network owns the train/held-out/test split of the linked-edge set.
//
// Held-out and test each contain an equal number of positive (linked) and
// negative (non-link) entries, are mutually disjoint, and are excluded from
// every training minibatch. The train-link map is the per-vertex adjacency
// with held-out and test endpoints removed; it is frozen after construction.
type Network struct {
	g *graph.Graph
	n int32

	heldOut map[graph.Edge]bool
	test    map[graph.Edge]bool

	// Sorted snapshot of E, the sampling ground set. Sorted so that a fixed
	// seed draws the same edges on every run.
	links []graph.Edge

	// trainLinks[v] is sorted ascending.
	trainLinks [][]graph.Vertex

	heldOutSize int
	numPieces   int
}

// DefaultNumPieces is the non-link partition count of the
// stratified-random-node strategy.
const DefaultNumPieces = 10

// New partitions the graph into train/held-out/test views.
// heldOutRatio scales |E| to the held-out size; the test set gets the same
// number of entries again.
func New(g *graph.Graph, heldOutRatio float64, rng *randsrc.Random) (*Network, error) {
	n := &Network{
		g:           g,
		n:           g.NumNodes(),
		heldOut:     make(map[graph.Edge]bool),
		test:        make(map[graph.Edge]bool),
		heldOutSize: int(heldOutRatio * float64(g.NumEdges())),
		numPieces:   DefaultNumPieces,
	}

	n.links = make([]graph.Edge, 0, g.NumEdges())
	g.Edges(func(e graph.Edge) bool {
		n.links = append(n.links, e)
		return true
	})
	slices.SortFunc(n.links, compareEdges)

	train := make([]map[graph.Vertex]struct{}, n.n)
	for v := range train {
		train[v] = make(map[graph.Vertex]struct{})
	}
	for _, e := range n.links {
		train[e.First][e.Second] = struct{}{}
		train[e.Second][e.First] = struct{}{}
	}

	if err := n.initHeldOut(train, rng); err != nil {
		return nil, err
	}
	n.initTest(train, rng)

	n.trainLinks = make([][]graph.Vertex, n.n)
	for v := range train {
		adj := make([]graph.Vertex, 0, len(train[v]))
		for u := range train[v] {
			adj = append(adj, u)
		}
		slices.Sort(adj)
		n.trainLinks[v] = adj
	}

	return n, nil
}

func compareEdges(a, b graph.Edge) int {
	if a.First != b.First {
		return int(a.First) - int(b.First)
	}
	return int(a.Second) - int(b.Second)
}

// initHeldOut draws heldOutSize/2 positives from E and as many negatives
// from the complement.
func (n *Network) initHeldOut(train []map[graph.Vertex]struct{}, rng *randsrc.Random) error {
	p := n.heldOutSize / 2

	// The test split draws another p positives, disjoint from these.
	if len(n.links) < n.heldOutSize {
		return fmt.Errorf("%w: have %d links, need %d", ErrNotEnoughLinks, len(n.links), n.heldOutSize)
	}

	for _, ix := range rng.SampleIndices(p, len(n.links)) {
		e := n.links[ix]
		n.heldOut[e] = true
		delete(train[e.First], e.Second)
		delete(train[e.Second], e.First)
	}

	for i := 0; i < p; i++ {
		e := n.sampleNonLinkEdge(rng, func(e graph.Edge) bool {
			_, used := n.heldOut[e]
			return used
		})
		n.heldOut[e] = false
	}

	return nil
}

// initTest draws a second, disjoint heldOutSize/2 + heldOutSize/2 split.
func (n *Network) initTest(train []map[graph.Vertex]struct{}, rng *randsrc.Random) {
	p := n.heldOutSize / 2

	for p > 0 {
		// Held-out already consumed some links; oversample by 2x and filter.
		for _, ix := range rng.SampleIndices(2*p, len(n.links)) {
			if p == 0 {
				break
			}
			e := n.links[ix]
			if _, used := n.heldOut[e]; used {
				continue
			}
			if _, used := n.test[e]; used {
				continue
			}
			n.test[e] = true
			delete(train[e.First], e.Second)
			delete(train[e.Second], e.First)
			p--
		}
	}

	p = n.heldOutSize / 2
	for i := 0; i < p; i++ {
		e := n.sampleNonLinkEdge(rng, func(e graph.Edge) bool {
			if _, used := n.heldOut[e]; used {
				return true
			}
			_, used := n.test[e]
			return used
		})
		n.test[e] = false
	}
}

// sampleNonLinkEdge reject-samples one canonical non-link, non-self edge
// that the used predicate does not veto.
func (n *Network) sampleNonLinkEdge(rng *randsrc.Random, used func(graph.Edge) bool) graph.Edge {
	for {
		first := rng.UniformInt(0, n.n-1)
		second := rng.UniformInt(0, n.n-1)
		if first == second {
			continue
		}
		e := graph.NewEdge(first, second)
		if n.g.Contains(e) || used(e) {
			continue
		}
		return e
	}
}

// SetNumPieces overrides the stratified-random-node non-link partition count.
func (n *Network) SetNumPieces(pieces int) {
	if pieces > 0 {
		n.numPieces = pieces
	}
}

// NumPieces returns the configured non-link partition count.
func (n *Network) NumPieces() int {
	return n.numPieces
}

// Graph returns the underlying immutable graph.
func (n *Network) Graph() *graph.Graph {
	return n.g
}

// NumNodes returns N.
func (n *Network) NumNodes() int32 {
	return n.n
}

// NumLinkedEdges returns |E|.
func (n *Network) NumLinkedEdges() int {
	return len(n.links)
}

// HeldOutSize returns the number of held-out entries.
func (n *Network) HeldOutSize() int {
	return len(n.heldOut)
}

// InHeldOut reports held-out membership of the canonical edge.
func (n *Network) InHeldOut(e graph.Edge) bool {
	_, ok := n.heldOut[e]
	return ok
}

// InTest reports test membership of the canonical edge.
func (n *Network) InTest(e graph.Edge) bool {
	_, ok := n.test[e]
	return ok
}

// HeldOutItems returns the held-out entries in a deterministic order, for
// scattering across the cohort.
func (n *Network) HeldOutItems() []EdgeFlag {
	items := make([]EdgeFlag, 0, len(n.heldOut))
	for e, link := range n.heldOut {
		items = append(items, EdgeFlag{Edge: e, Link: link})
	}
	slices.SortFunc(items, func(a, b EdgeFlag) int {
		return compareEdges(a.Edge, b.Edge)
	})
	return items
}

// TestItems returns the test entries in a deterministic order.
func (n *Network) TestItems() []EdgeFlag {
	items := make([]EdgeFlag, 0, len(n.test))
	for e, link := range n.test {
		items = append(items, EdgeFlag{Edge: e, Link: link})
	}
	slices.SortFunc(items, func(a, b EdgeFlag) int {
		return compareEdges(a.Edge, b.Edge)
	})
	return items
}

// TrainLinks returns v's neighbours within the training set, sorted.
// The returned slice is shared; callers must not mutate it.
func (n *Network) TrainLinks(v graph.Vertex) []graph.Vertex {
	return n.trainLinks[v]
}

// LinkRatio returns |E| over the number of possible edges.
func (n *Network) LinkRatio() float64 {
	return float64(len(n.links)) / (float64(n.n) * float64(n.n-1) / 2.0)
}

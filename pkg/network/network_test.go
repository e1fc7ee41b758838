package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/sparsebm/pkg/graph"
	"github.com/dd0wney/sparsebm/pkg/randsrc"
)

// gridGraph builds an n-node graph with a ring plus chords, dense enough to
// carve held-out and test sets out of.
func gridGraph(n int32) *graph.Graph {
	var edges []graph.Edge
	for i := int32(0); i < n; i++ {
		edges = append(edges, graph.NewEdge(i, (i+1)%n))
		edges = append(edges, graph.NewEdge(i, (i+7)%n))
	}
	return graph.Build(n, edges)
}

func newTestNetwork(t *testing.T, n int32, ratio float64) *Network {
	t.Helper()
	net, err := New(gridGraph(n), ratio, randsrc.New(42))
	require.NoError(t, err)
	return net
}

func TestPartitionInvariants(t *testing.T) {
	net := newTestNetwork(t, 100, 0.1)

	heldOut := net.HeldOutItems()
	test := net.TestItems()

	// equal positive and negative counts in each map
	countLinks := func(items []EdgeFlag) (pos, neg int) {
		for _, item := range items {
			if item.Link {
				pos++
			} else {
				neg++
			}
		}
		return
	}
	hp, hn := countLinks(heldOut)
	tp, tn := countLinks(test)
	assert.Equal(t, hp, hn, "held-out positives != negatives")
	assert.Equal(t, tp, tn, "test positives != negatives")
	assert.Equal(t, len(heldOut), len(test))

	// H and T are disjoint, contain no self loops, and classify correctly
	seen := make(map[graph.Edge]struct{})
	for _, item := range heldOut {
		seen[item.Edge] = struct{}{}
		assert.False(t, item.Edge.SelfLoop())
		assert.Equal(t, net.Graph().Contains(item.Edge), item.Link)
	}
	for _, item := range test {
		_, dup := seen[item.Edge]
		assert.False(t, dup, "edge %v in both held-out and test", item.Edge)
		assert.False(t, item.Edge.SelfLoop())
		assert.Equal(t, net.Graph().Contains(item.Edge), item.Link)
	}
}

func TestTrainLinksExcludeHeldOutAndTest(t *testing.T) {
	net := newTestNetwork(t, 100, 0.2)

	for _, item := range append(net.HeldOutItems(), net.TestItems()...) {
		if !item.Link {
			continue
		}
		e := item.Edge
		assert.NotContains(t, net.TrainLinks(e.First), e.Second,
			"train link map retains held-out pairing %v", e)
		assert.NotContains(t, net.TrainLinks(e.Second), e.First)
	}

	// Surviving train links are all real links.
	for v := int32(0); v < net.NumNodes(); v++ {
		for _, u := range net.TrainLinks(v) {
			assert.True(t, net.Graph().Contains(graph.NewEdge(v, u)))
		}
	}
}

func TestZeroHoldOutRatio(t *testing.T) {
	net := newTestNetwork(t, 50, 0)
	assert.Empty(t, net.HeldOutItems())
	assert.Empty(t, net.TestItems())
}

func TestNotEnoughLinks(t *testing.T) {
	// 3 nodes, 2 edges: a ratio over 1 demands more links than exist.
	g := graph.Build(3, []graph.Edge{{First: 0, Second: 1}, {First: 1, Second: 2}})
	_, err := New(g, 8.0, randsrc.New(1))
	assert.ErrorIs(t, err, ErrNotEnoughLinks)
}

func TestHeldOutItemsDeterministicOrder(t *testing.T) {
	net := newTestNetwork(t, 60, 0.1)
	a := net.HeldOutItems()
	b := net.HeldOutItems()
	assert.Equal(t, a, b)
	for i := 1; i < len(a); i++ {
		prev, cur := a[i-1].Edge, a[i].Edge
		less := prev.First < cur.First || (prev.First == cur.First && prev.Second < cur.Second)
		assert.True(t, less, "items out of order at %d", i)
	}
}

func TestSameSeedSamePartition(t *testing.T) {
	netA, err := New(gridGraph(80), 0.1, randsrc.New(7))
	require.NoError(t, err)
	netB, err := New(gridGraph(80), 0.1, randsrc.New(7))
	require.NoError(t, err)

	assert.Equal(t, netA.HeldOutItems(), netB.HeldOutItems())
	assert.Equal(t, netA.TestItems(), netB.TestItems())
}

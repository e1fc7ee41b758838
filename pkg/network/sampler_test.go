package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/sparsebm/pkg/graph"
	"github.com/dd0wney/sparsebm/pkg/randsrc"
)

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		name    string
		want    Strategy
		wantErr bool
	}{
		{"random-pair", RandomPair, false},
		{"random-node", RandomNode, false},
		{"stratified-random-pair", StratifiedRandomPair, false},
		{"stratified-random-node", StratifiedRandomNode, false},
		{"bogus", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStrategy(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownStrategy)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.name, got.String())
		})
	}
}

func TestRandomPairSampling(t *testing.T) {
	net := newTestNetwork(t, 100, 0.1)
	rng := randsrc.New(3)

	batch, err := net.SampleMiniBatch(RandomPair, 20, rng)
	require.NoError(t, err)

	assert.Equal(t, 20, batch.Len())
	assert.InDelta(t, float64(100*99)/(2.0*20), batch.Scale, 1e-9)
	for _, e := range batch.Edges {
		assert.False(t, e.SelfLoop())
		assert.False(t, net.InHeldOut(e))
		assert.False(t, net.InTest(e))
	}
}

func TestRandomNodeSampling(t *testing.T) {
	net := newTestNetwork(t, 50, 0.1)
	batch, err := net.SampleMiniBatch(RandomNode, 0, randsrc.New(4))
	require.NoError(t, err)

	assert.Equal(t, float64(50), batch.Scale)
	assert.LessOrEqual(t, batch.Len(), 49)
}

// In the link branch the scale is exactly N; in the non-link branch exactly
// N * num_pieces.
func TestStratifiedRandomNodeScaleFactors(t *testing.T) {
	net := newTestNetwork(t, 200, 0.1)
	net.SetNumPieces(10)
	rng := randsrc.New(9)

	sawLink, sawNonLink := false, false
	for i := 0; i < 40 && !(sawLink && sawNonLink); i++ {
		batch, err := net.SampleMiniBatch(StratifiedRandomNode, 0, rng)
		require.NoError(t, err)

		switch batch.Scale {
		case float64(200):
			sawLink = true
			// every edge in the link branch is a real training link
			for _, e := range batch.Edges {
				assert.True(t, net.Graph().Contains(e))
			}
		case float64(200 * 10):
			sawNonLink = true
			for _, e := range batch.Edges {
				assert.False(t, net.Graph().Contains(e))
				assert.False(t, net.InHeldOut(e))
				assert.False(t, net.InTest(e))
			}
		default:
			t.Fatalf("unexpected scale %g", batch.Scale)
		}
	}
	assert.True(t, sawLink, "link branch never drawn")
	assert.True(t, sawNonLink, "non-link branch never drawn")
}

// Minibatch cardinality: with p pieces, the node count of any
// stratified-random-node batch stays within the draw-twice-then-trim
// envelope 1 + 2 * floor((N - fanout) / p), fanout being the smallest
// train-link fan-out.
func TestStratifiedRandomNodeCardinality(t *testing.T) {
	const n = 1000
	var edges []graph.Edge
	rng := randsrc.New(11)
	for len(edges) < 20000 {
		a := rng.UniformInt(0, n-1)
		b := rng.UniformInt(0, n-1)
		if a == b {
			continue
		}
		edges = append(edges, graph.NewEdge(a, b))
	}
	g := graph.Build(n, edges)
	net, err := New(g, 0, randsrc.New(12))
	require.NoError(t, err)
	net.SetNumPieces(10)

	for i := 0; i < 50; i++ {
		batch, err := net.SampleMiniBatch(StratifiedRandomNode, 0, rng)
		require.NoError(t, err)

		nodes := batch.Nodes()
		if batch.Scale == float64(n) {
			continue // link branch has its own bound: 1 + fanout
		}
		minFanOut := n
		for v := int32(0); v < n; v++ {
			if f := len(net.TrainLinks(v)); f < minFanOut {
				minFanOut = f
			}
		}
		envelope := 1 + ((n-minFanOut)/10)*2
		assert.LessOrEqual(t, len(nodes), envelope)
	}
}

func TestMiniBatchNodesUnique(t *testing.T) {
	net := newTestNetwork(t, 100, 0.1)
	batch, err := net.SampleMiniBatch(StratifiedRandomNode, 0, randsrc.New(5))
	require.NoError(t, err)

	nodes := batch.Nodes()
	seen := make(map[graph.Vertex]struct{})
	for _, v := range nodes {
		_, dup := seen[v]
		assert.False(t, dup, "node %d repeated", v)
		seen[v] = struct{}{}
	}
	for _, e := range batch.Edges {
		assert.Contains(t, seen, e.First)
		assert.Contains(t, seen, e.Second)
	}
}

func TestMaxMinibatchNodesBounds(t *testing.T) {
	net := newTestNetwork(t, 100, 0.1)

	assert.Equal(t, 40, net.MaxMinibatchNodes(RandomPair, 20))
	assert.Equal(t, 100, net.MaxMinibatchNodes(RandomNode, 0))

	bound := net.MaxMinibatchNodes(StratifiedRandomNode, 0)
	for i := 0; i < 30; i++ {
		batch, err := net.SampleMiniBatch(StratifiedRandomNode, 0, randsrc.New(uint64(i)))
		require.NoError(t, err)
		assert.LessOrEqual(t, len(batch.Nodes()), bound)
	}
}

package graph

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ringEdges(n int32) []Edge {
	edges := make([]Edge, 0, n)
	for i := int32(0); i < n; i++ {
		edges = append(edges, NewEdge(i, (i+1)%n))
	}
	return edges
}

func TestNewEdgeCanonicalises(t *testing.T) {
	tests := []struct {
		name string
		a, b Vertex
		want Edge
	}{
		{"ordered", 1, 5, Edge{1, 5}},
		{"swapped", 5, 1, Edge{1, 5}},
		{"self", 3, 3, Edge{3, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewEdge(tt.a, tt.b))
		})
	}
}

func TestBuildAdjacencyMatchesEdgeSet(t *testing.T) {
	g := Build(6, []Edge{
		{0, 1}, {1, 2}, {0, 5}, {3, 4},
		{1, 0},  // duplicate after canonicalisation
		{2, 2},  // self loop dropped
	})

	assert.Equal(t, int32(6), g.NumNodes())
	assert.Equal(t, 4, g.NumEdges())

	// (u,v) in E iff v in adj[u] and u in adj[v]
	for v := int32(0); v < 6; v++ {
		for _, u := range g.Neighbours(v) {
			assert.True(t, g.Contains(NewEdge(u, v)), "adj edge (%d,%d) missing from set", u, v)
		}
	}
	g.Edges(func(e Edge) bool {
		assert.Contains(t, g.Neighbours(e.First), e.Second)
		assert.Contains(t, g.Neighbours(e.Second), e.First)
		return true
	})

	assert.False(t, g.Contains(Edge{2, 2}))
	assert.False(t, g.Contains(Edge{0, 3}))
}

func TestNeighboursSorted(t *testing.T) {
	g := Build(5, []Edge{{0, 4}, {0, 2}, {0, 1}, {0, 3}})
	assert.Equal(t, []Vertex{1, 2, 3, 4}, g.Neighbours(0))
	assert.Equal(t, 4, g.FanOut(0))
	assert.Equal(t, 1, g.FanOut(3))
}

func TestMarshallEdgesFrom(t *testing.T) {
	g := Build(4, []Edge{{0, 1}, {0, 2}, {0, 3}})
	out := make([]Vertex, g.FanOut(0))
	n := g.MarshallEdgesFrom(0, out)
	assert.Equal(t, 3, n)
	assert.Equal(t, []Vertex{1, 2, 3}, out)
}

func TestCodecRoundTrip(t *testing.T) {
	g := Build(64, ringEdges(64))

	var first bytes.Buffer
	require.NoError(t, g.WriteTo(&first))

	loaded, err := ReadFrom(bytes.NewReader(first.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, g.NumNodes(), loaded.NumNodes())
	assert.Equal(t, g.NumEdges(), loaded.NumEdges())

	// dump -> load -> dump yields identical bytes
	var second bytes.Buffer
	require.NoError(t, loaded.WriteTo(&second))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestSaveLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring.graph")
	g := Build(10, ringEdges(10))
	require.NoError(t, g.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, g.NumEdges(), loaded.NumEdges())
	for v := int32(0); v < 10; v++ {
		assert.Equal(t, g.Neighbours(v), loaded.Neighbours(v))
	}
}

func TestReadFromRejectsMalformed(t *testing.T) {
	_, err := ReadFrom(bytes.NewReader([]byte{0x01, 0x02}))
	assert.ErrorIs(t, err, ErrMalformedDataset)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.graph"))
	assert.Error(t, err)
}

func TestIsS3URI(t *testing.T) {
	assert.True(t, IsS3URI("s3://bucket/key.graph"))
	assert.False(t, IsS3URI("/data/key.graph"))
}

package graph

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
)

// Compact binary dataset layout, snappy-framed:
//
//	N        int32 LE
//	per vertex v in [0, N):
//	  count  int32 LE
//	  ids    count * int32 LE, sorted ascending
//
// A dump written by WriteTo reads back with ReadFrom and re-dumps to
// identical bytes.

// WriteTo serialises the graph in the compact dataset format.
func (g *Graph) WriteTo(w io.Writer) error {
	sw := snappy.NewBufferedWriter(w)

	if err := binary.Write(sw, binary.LittleEndian, g.n); err != nil {
		return fmt.Errorf("write vertex count: %w", err)
	}
	for v := int32(0); v < g.n; v++ {
		if err := binary.Write(sw, binary.LittleEndian, int32(len(g.adj[v]))); err != nil {
			return fmt.Errorf("write fan-out of %d: %w", v, err)
		}
		if err := binary.Write(sw, binary.LittleEndian, g.adj[v]); err != nil {
			return fmt.Errorf("write adjacency of %d: %w", v, err)
		}
	}

	return sw.Close()
}

// ReadFrom parses a compact dataset stream into a Graph.
func ReadFrom(r io.Reader) (*Graph, error) {
	sr := snappy.NewReader(r)

	var n int32
	if err := binary.Read(sr, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: vertex count: %v", ErrMalformedDataset, err)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative vertex count %d", ErrMalformedDataset, n)
	}

	g := &Graph{
		n:     n,
		edges: make(map[Edge]struct{}),
		adj:   make([][]Vertex, n),
	}

	for v := int32(0); v < n; v++ {
		var count int32
		if err := binary.Read(sr, binary.LittleEndian, &count); err != nil {
			return nil, fmt.Errorf("%w: fan-out of %d: %v", ErrMalformedDataset, v, err)
		}
		if count < 0 || count > n {
			return nil, fmt.Errorf("%w: fan-out %d of vertex %d", ErrMalformedDataset, count, v)
		}
		adj := make([]Vertex, count)
		if err := binary.Read(sr, binary.LittleEndian, adj); err != nil {
			return nil, fmt.Errorf("%w: adjacency of %d: %v", ErrMalformedDataset, v, err)
		}
		for _, u := range adj {
			if u < 0 || u >= n {
				return nil, fmt.Errorf("%w: neighbour %d of vertex %d", ErrVertexRange, u, v)
			}
			if u != v {
				g.edges[NewEdge(v, u)] = struct{}{}
			}
		}
		g.adj[v] = adj
	}

	return g, nil
}

// Save writes the graph to a file in the compact dataset format.
func (g *Graph) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dataset %s: %w", path, err)
	}
	defer f.Close()

	if err := g.WriteTo(f); err != nil {
		return fmt.Errorf("dump dataset %s: %w", path, err)
	}
	return f.Sync()
}

// Load reads a graph from a compact dataset file.
func Load(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer f.Close()

	g, err := ReadFrom(f)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", path, err)
	}
	return g, nil
}

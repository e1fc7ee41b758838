// Package graph holds the immutable linked-edge set and adjacency of the
// observed network, plus the compact on-disk dataset codec.
package graph

// Vertex is a dense vertex id in [0, N).
type Vertex = int32

// Edge is an undirected edge, canonicalised so First < Second.
type Edge struct {
	First  Vertex
	Second Vertex
}

// NewEdge returns the canonical form of the undirected edge {a, b}.
func NewEdge(a, b Vertex) Edge {
	if a < b {
		return Edge{First: a, Second: b}
	}
	return Edge{First: b, Second: a}
}

// SelfLoop reports whether both endpoints coincide.
func (e Edge) SelfLoop() bool {
	return e.First == e.Second
}

package graph

import (
	"slices"
)

// Graph is the immutable linked-edge structure of the observed network.
// It keeps both a hash set of canonical edges for O(1) membership tests and
// per-vertex sorted adjacency lists for O(fan-out) neighbour iteration.
type Graph struct {
	n     int32
	edges map[Edge]struct{}
	adj   [][]Vertex
}

// Build constructs a Graph over n vertices from the given edges. Edges are
// canonicalised; self-loops and duplicates are dropped. Adjacency lists are
// sorted ascending so set-difference operations downstream are deterministic.
func Build(n int32, edges []Edge) *Graph {
	g := &Graph{
		n:     n,
		edges: make(map[Edge]struct{}, len(edges)),
		adj:   make([][]Vertex, n),
	}

	for _, e := range edges {
		e = NewEdge(e.First, e.Second)
		if e.SelfLoop() {
			continue
		}
		if _, ok := g.edges[e]; ok {
			continue
		}
		g.edges[e] = struct{}{}
		g.adj[e.First] = append(g.adj[e.First], e.Second)
		g.adj[e.Second] = append(g.adj[e.Second], e.First)
	}

	for v := range g.adj {
		slices.Sort(g.adj[v])
	}

	return g
}

// NumNodes returns N.
func (g *Graph) NumNodes() int32 {
	return g.n
}

// NumEdges returns the number of linked edges |E|.
func (g *Graph) NumEdges() int {
	return len(g.edges)
}

// Contains reports whether the canonicalised edge is linked.
func (g *Graph) Contains(e Edge) bool {
	_, ok := g.edges[NewEdge(e.First, e.Second)]
	return ok
}

// FanOut returns |adj[v]|.
func (g *Graph) FanOut(v Vertex) int {
	return len(g.adj[v])
}

// Neighbours returns the sorted neighbour list of v. The returned slice is
// shared; callers must not mutate it.
func (g *Graph) Neighbours(v Vertex) []Vertex {
	return g.adj[v]
}

// MarshallEdgesFrom copies adj[v] contiguously into out and returns the
// number of vertices written. out must have room for FanOut(v) entries.
func (g *Graph) MarshallEdgesFrom(v Vertex, out []Vertex) int {
	return copy(out, g.adj[v])
}

// Edges calls fn for every linked edge until fn returns false. Iteration
// order is unspecified.
func (g *Graph) Edges(fn func(Edge) bool) {
	for e := range g.edges {
		if !fn(e) {
			return
		}
	}
}

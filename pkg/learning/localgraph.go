package learning

import (
	"github.com/dd0wney/sparsebm/pkg/graph"
)

// LocalNetwork is a worker's slice of the graph in non-replicated mode: the
// adjacency of each of its minibatch nodes, indexed by node-in-slice. It is
// rebuilt from the master's subgraph scatter every iteration.
type LocalNetwork struct {
	linked []map[graph.Vertex]struct{}
}

// Reset discards the previous iteration's subgraph.
func (l *LocalNetwork) Reset() {
	l.linked = l.linked[:0]
}

// Unmarshall installs the adjacency of the index-th node of the slice.
func (l *LocalNetwork) Unmarshall(index int, adj []graph.Vertex) {
	for len(l.linked) <= index {
		l.linked = append(l.linked, nil)
	}
	set := make(map[graph.Vertex]struct{}, len(adj))
	for _, v := range adj {
		set[v] = struct{}{}
	}
	l.linked[index] = set
}

// Find reports whether the index-th slice node links to neighbour.
func (l *LocalNetwork) Find(index int, neighbour graph.Vertex) bool {
	if index >= len(l.linked) || l.linked[index] == nil {
		return false
	}
	_, ok := l.linked[index][neighbour]
	return ok
}

// Package algo implements graph algorithms over the adjacency guards of
// the graph index.
//
// Every algorithm reads the graph through the Graph interface, one
// adjacency list at a time, and never copies the edge set. Identifiers
// passed to a CostFunc are borrowed from the guard being iterated and must
// not be retained. Results are always owned.
//
// Algorithms take a context and check it at their natural checkpoints:
// each BFS layer, each priority queue pop, each outer relaxation or
// iteration round. A cancelled context aborts with ctx.Err().
//
// Algorithms that need working state proportional to the graph (residual
// capacities for flows, community graphs for Louvain, distance matrices
// for all-pairs) build it over dense node indexes, not string copies of
// the adjacency lists.
//
// graph.Snapshot and lockfree.Graph both satisfy Graph. A Snapshot is the
// usual choice: every guard shares one read transaction, so the whole run
// sees one consistent graph.
package algo

import (
	"errors"
	"strings"

	"github.com/ocentra/TabAgentServer-sub005/pkg/zerocopy"
)

// Graph is the read contract algorithms run against.
type Graph interface {
	Outgoing(id string) (*zerocopy.Pairs, error)
	Incoming(id string) (*zerocopy.Pairs, error)
	// Nodes calls fn for every entity with at least one edge.
	Nodes(fn func(id string) error) error
}

// CostFunc returns the weight of the edge from → to with relationship
// rel. The strings are borrowed.
type CostFunc func(rel, from, to string) float64

// UnitCost weighs every edge 1.
func UnitCost(_, _, _ string) float64 { return 1 }

// Direction selects which adjacency lists a traversal follows.
type Direction int

const (
	Out Direction = iota
	In
	Both
)

var (
	// ErrNegativeCycle is returned when a negative cycle is reachable.
	ErrNegativeCycle = errors.New("negative cycle")

	// ErrNotDAG is returned by algorithms that require an acyclic graph.
	ErrNotDAG = errors.New("graph has a cycle")

	// ErrNegativeWeight is returned by Dijkstra and A* for a negative
	// edge cost.
	ErrNegativeWeight = errors.New("negative edge weight")
)

// Edge is an owned edge in a result.
type Edge struct {
	Rel    string
	From   string
	To     string
	Weight float64
}

// Path is an owned path. Rels[i] connects Nodes[i] to Nodes[i+1].
type Path struct {
	Nodes []string
	Rels  []string
	Cost  float64
}

// eachPair calls fn for every pair of the list opened by open. fn returns
// false to stop. It reports whether iteration ran to completion.
func eachPair(open func(string) (*zerocopy.Pairs, error), id string, fn func(rel, nbr string) bool) (bool, error) {
	pairs, err := open(id)
	if err != nil || pairs == nil {
		return err == nil, err
	}
	defer pairs.Close()
	it := pairs.Iter()
	for it.Next() {
		if !fn(it.Rel(), it.Nbr()) {
			return false, nil
		}
	}
	return true, it.Err()
}

// eachEdge visits the edges of id in direction dir. For In, nbr is the
// source of the edge.
func eachEdge(g Graph, id string, dir Direction, fn func(rel, nbr string) bool) error {
	if dir == Out || dir == Both {
		done, err := eachPair(g.Outgoing, id, fn)
		if err != nil || !done {
			return err
		}
	}
	if dir == In || dir == Both {
		_, err := eachPair(g.Incoming, id, fn)
		return err
	}
	return nil
}

// nodeTable maps node ids to dense indexes. Lookups with borrowed strings
// do not allocate; interning copies the id.
type nodeTable struct {
	ids []string
	pos map[string]int
}

func newNodeTable() *nodeTable {
	return &nodeTable{pos: make(map[string]int)}
}

func (t *nodeTable) intern(id string) int {
	if i, ok := t.pos[id]; ok {
		return i
	}
	id = strings.Clone(id)
	t.pos[id] = len(t.ids)
	t.ids = append(t.ids, id)
	return len(t.ids) - 1
}

func (t *nodeTable) lookup(id string) (int, bool) {
	i, ok := t.pos[id]
	return i, ok
}

func (t *nodeTable) len() int { return len(t.ids) }

// allNodes interns every node of g.
func allNodes(g Graph) (*nodeTable, error) {
	t := newNodeTable()
	err := g.Nodes(func(id string) error {
		t.intern(id)
		return nil
	})
	return t, err
}

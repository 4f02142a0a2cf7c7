package algo

import (
	"container/heap"
	"context"
	"sort"
)

// SpanningForest is a minimum spanning forest over the undirected view of
// a graph. Edges keep their stored direction.
type SpanningForest struct {
	Edges  []Edge
	Weight float64
}

func (f *SpanningForest) add(nodes, rels *nodeTable, e weightedEdge) {
	f.Edges = append(f.Edges, Edge{
		Rel:    rels.ids[e.rel],
		From:   nodes.ids[e.from],
		To:     nodes.ids[e.to],
		Weight: e.w,
	})
	f.Weight += e.w
}

// weightedEdge is a stored edge over dense node and relationship indexes.
type weightedEdge struct {
	from, to, rel int
	w             float64
}

type edgeHeap struct {
	items []weightedEdge
	// next is the node each item would add to the tree.
	next []int
}

func (h *edgeHeap) Len() int           { return len(h.items) }
func (h *edgeHeap) Less(i, j int) bool { return h.items[i].w < h.items[j].w }
func (h *edgeHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.next[i], h.next[j] = h.next[j], h.next[i]
}
func (h *edgeHeap) Push(x any) {
	c := x.(candidate)
	h.items = append(h.items, c.edge)
	h.next = append(h.next, c.next)
}
func (h *edgeHeap) Pop() any {
	n := len(h.items) - 1
	c := candidate{edge: h.items[n], next: h.next[n]}
	h.items, h.next = h.items[:n], h.next[:n]
	return c
}

type candidate struct {
	edge weightedEdge
	next int
}

// Prim grows a minimum spanning tree from every unvisited node in turn,
// producing a forest for disconnected graphs. Edges are followed in both
// directions. ctx is checked at each heap pop.
func Prim(ctx context.Context, g Graph, cost CostFunc) (*SpanningForest, error) {
	nodes, err := allNodes(g)
	if err != nil {
		return nil, err
	}
	rels := newNodeTable()
	inTree := make([]bool, nodes.len())
	forest := &SpanningForest{}

	expand := func(h *edgeHeap, u int) error {
		id := nodes.ids[u]
		_, err := eachPair(g.Outgoing, id, func(rel, nbr string) bool {
			if v, ok := nodes.lookup(nbr); ok && !inTree[v] {
				e := weightedEdge{from: u, to: v, rel: rels.intern(rel), w: cost(rel, id, nbr)}
				heap.Push(h, candidate{edge: e, next: v})
			}
			return true
		})
		if err != nil {
			return err
		}
		_, err = eachPair(g.Incoming, id, func(rel, nbr string) bool {
			if v, ok := nodes.lookup(nbr); ok && !inTree[v] {
				e := weightedEdge{from: v, to: u, rel: rels.intern(rel), w: cost(rel, nbr, id)}
				heap.Push(h, candidate{edge: e, next: v})
			}
			return true
		})
		return err
	}

	for root := 0; root < nodes.len(); root++ {
		if inTree[root] {
			continue
		}
		inTree[root] = true
		h := &edgeHeap{}
		if err := expand(h, root); err != nil {
			return nil, err
		}
		for h.Len() > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			c := heap.Pop(h).(candidate)
			if inTree[c.next] {
				continue
			}
			inTree[c.next] = true
			forest.add(nodes, rels, c.edge)
			if err := expand(h, c.next); err != nil {
				return nil, err
			}
		}
	}
	return forest, nil
}

// unionFind is a disjoint-set forest with path halving and union by size.
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) bool {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return false
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
	return true
}

// Kruskal builds a minimum spanning forest by scanning edges in weight
// order. Ties are broken by source then target id so the result is
// deterministic. ctx is checked per node while collecting edges and every
// 1024 edges while merging.
func Kruskal(ctx context.Context, g Graph, cost CostFunc) (*SpanningForest, error) {
	nodes, err := allNodes(g)
	if err != nil {
		return nil, err
	}
	rels := newNodeTable()
	var edges []weightedEdge
	for u := 0; u < nodes.len(); u++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		from := nodes.ids[u]
		_, err := eachPair(g.Outgoing, from, func(rel, nbr string) bool {
			v, ok := nodes.lookup(nbr)
			if !ok {
				return true
			}
			edges = append(edges, weightedEdge{from: u, to: v, rel: rels.intern(rel), w: cost(rel, from, nbr)})
			return true
		})
		if err != nil {
			return nil, err
		}
	}

	sort.SliceStable(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.w != b.w {
			return a.w < b.w
		}
		if a.from != b.from {
			return nodes.ids[a.from] < nodes.ids[b.from]
		}
		return nodes.ids[a.to] < nodes.ids[b.to]
	})

	uf := newUnionFind(nodes.len())
	forest := &SpanningForest{}
	for i, e := range edges {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if uf.union(e.from, e.to) {
			forest.add(nodes, rels, e)
		}
	}
	return forest, nil
}

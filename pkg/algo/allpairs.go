package algo

import (
	"context"
	"math"
)

// AllPairs holds shortest distances between every pair of nodes.
type AllPairs struct {
	nodes *nodeTable
	dist  [][]float64
}

// Dist returns the distance from a to b and whether b is reachable.
func (ap *AllPairs) Dist(a, b string) (float64, bool) {
	i, ok := ap.nodes.lookup(a)
	if !ok {
		return math.Inf(1), false
	}
	j, ok := ap.nodes.lookup(b)
	if !ok || math.IsInf(ap.dist[i][j], 1) {
		return math.Inf(1), false
	}
	return ap.dist[i][j], true
}

// Nodes returns the node ids covered.
func (ap *AllPairs) Nodes() []string {
	return append([]string(nil), ap.nodes.ids...)
}

func newMatrix(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		for j := range m[i] {
			m[i][j] = math.Inf(1)
		}
		m[i][i] = 0
	}
	return m
}

// FloydWarshall computes all-pairs shortest paths in O(n³). Negative costs
// are allowed; a negative cycle returns ErrNegativeCycle. ctx is checked
// once per intermediate node.
func FloydWarshall(ctx context.Context, g Graph, cost CostFunc) (*AllPairs, error) {
	nodes, err := allNodes(g)
	if err != nil {
		return nil, err
	}
	n := nodes.len()
	dist := newMatrix(n)
	for u := 0; u < n; u++ {
		from := nodes.ids[u]
		err := eachEdge(g, from, Out, func(rel, nbr string) bool {
			v, ok := nodes.lookup(nbr)
			if !ok {
				return true
			}
			if w := cost(rel, from, nbr); w < dist[u][v] {
				dist[u][v] = w
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}

	for k := 0; k < n; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dk := dist[k]
		for i := 0; i < n; i++ {
			dik := dist[i][k]
			if math.IsInf(dik, 1) {
				continue
			}
			di := dist[i]
			for j := 0; j < n; j++ {
				if nd := dik + dk[j]; nd < di[j] {
					di[j] = nd
				}
			}
		}
	}
	for i := 0; i < n; i++ {
		if dist[i][i] < 0 {
			return nil, ErrNegativeCycle
		}
	}
	return &AllPairs{nodes: nodes, dist: dist}, nil
}

// Johnson computes all-pairs shortest paths by reweighting with
// Bellman-Ford potentials and running Dijkstra from every node. It is
// faster than FloydWarshall on sparse graphs and also allows negative
// costs. ctx is checked per relaxation round and per Dijkstra pop.
func Johnson(ctx context.Context, g Graph, cost CostFunc) (*AllPairs, error) {
	nodes, err := allNodes(g)
	if err != nil {
		return nil, err
	}
	n := nodes.len()

	// Potentials from a virtual source joined to every node at cost 0.
	h := make([]float64, n)
	for round := 0; round <= n; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		changed := false
		for u := 0; u < n; u++ {
			from := nodes.ids[u]
			err := eachEdge(g, from, Out, func(rel, nbr string) bool {
				v, ok := nodes.lookup(nbr)
				if !ok {
					return true
				}
				if nd := h[u] + cost(rel, from, nbr); nd < h[v] {
					h[v] = nd
					changed = true
				}
				return true
			})
			if err != nil {
				return nil, err
			}
		}
		if !changed {
			break
		}
		if round == n {
			return nil, ErrNegativeCycle
		}
	}

	reweighted := func(rel, from, to string) float64 {
		u, ok := nodes.lookup(from)
		v, ok2 := nodes.lookup(to)
		if !ok || !ok2 {
			return math.Max(0, cost(rel, from, to))
		}
		return math.Max(0, cost(rel, from, to)+h[u]-h[v])
	}

	dist := newMatrix(n)
	for u := 0; u < n; u++ {
		tree, err := bestFirst(ctx, g, nodes.ids[u], "", reweighted, nil)
		if err != nil {
			return nil, err
		}
		for i, d := range tree.dist {
			if math.IsInf(d, 1) {
				continue
			}
			v, ok := nodes.lookup(tree.nodes.ids[i])
			if !ok {
				continue
			}
			dist[u][v] = d - h[u] + h[v]
		}
	}
	return &AllPairs{nodes: nodes, dist: dist}, nil
}

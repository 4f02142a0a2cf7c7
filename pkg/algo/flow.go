package algo

import (
	"context"
	"math"
	"sort"
)

const flowEps = 1e-12

// Flow is the result of a max-flow computation. Edges lists every stored
// edge that carries flow, with Weight set to the flow on it.
type Flow struct {
	Value float64
	Cost  float64
	Edges []Edge
}

type arc struct {
	to, rev int
	rel     int // -1 for residual back arcs
	cap     float64
	orig    float64
	cost    float64
}

// network is the residual graph over nodes reachable from the source.
type network struct {
	nodes *nodeTable
	rels  *nodeTable
	adj   [][]arc
	s, t  int
}

// buildNetwork reads the edges reachable from src. capacity gives each
// edge's capacity; cost may be nil. ctx is checked per BFS layer.
func buildNetwork(ctx context.Context, g Graph, src, sink string, capacity, cost CostFunc) (*network, error) {
	nw := &network{nodes: newNodeTable(), rels: newNodeTable(), t: -1}
	nw.s = nw.node(src)
	var readErr error
	err := BFS(ctx, g, src, Out, func(id string, _ int) bool {
		u := nw.node(id)
		readErr = eachEdge(g, id, Out, func(rel, nbr string) bool {
			c := capacity(rel, id, nbr)
			if c <= 0 || nbr == id {
				return true
			}
			var w float64
			if cost != nil {
				w = cost(rel, id, nbr)
			}
			v := nw.node(nbr)
			r := nw.rels.intern(rel)
			nw.adj[u] = append(nw.adj[u], arc{to: v, rev: len(nw.adj[v]), rel: r, cap: c, orig: c, cost: w})
			nw.adj[v] = append(nw.adj[v], arc{to: u, rev: len(nw.adj[u]) - 1, rel: -1, cost: -w})
			return true
		})
		return readErr == nil
	})
	if err == nil {
		err = readErr
	}
	if err != nil {
		return nil, err
	}
	if t, ok := nw.nodes.lookup(sink); ok {
		nw.t = t
	}
	return nw, nil
}

func (nw *network) node(id string) int {
	i := nw.nodes.intern(id)
	for len(nw.adj) < nw.nodes.len() {
		nw.adj = append(nw.adj, nil)
	}
	return i
}

func (nw *network) result(value float64) *Flow {
	f := &Flow{Value: value}
	for u, arcs := range nw.adj {
		for _, a := range arcs {
			if a.rel < 0 {
				continue
			}
			if sent := a.orig - a.cap; sent > flowEps {
				f.Edges = append(f.Edges, Edge{
					Rel:    nw.rels.ids[a.rel],
					From:   nw.nodes.ids[u],
					To:     nw.nodes.ids[a.to],
					Weight: sent,
				})
				f.Cost += sent * a.cost
			}
		}
	}
	sort.Slice(f.Edges, func(i, j int) bool {
		if f.Edges[i].From != f.Edges[j].From {
			return f.Edges[i].From < f.Edges[j].From
		}
		return f.Edges[i].To < f.Edges[j].To
	})
	return f
}

func (nw *network) push(u, i int, amount float64) {
	a := &nw.adj[u][i]
	a.cap -= amount
	nw.adj[a.to][a.rev].cap += amount
}

// FordFulkerson computes the maximum flow from src to sink using shortest
// augmenting paths (Edmonds-Karp). An unreachable sink yields a zero
// flow. ctx is checked before each augmenting search.
func FordFulkerson(ctx context.Context, g Graph, src, sink string, capacity CostFunc) (*Flow, error) {
	nw, err := buildNetwork(ctx, g, src, sink, capacity, nil)
	if err != nil {
		return nil, err
	}
	if nw.t < 0 || nw.t == nw.s {
		return nw.result(0), nil
	}

	n := nw.nodes.len()
	prevNode := make([]int, n)
	prevArc := make([]int, n)
	var total float64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range prevNode {
			prevNode[i] = -1
		}
		prevNode[nw.s] = nw.s
		queue := []int{nw.s}
		for len(queue) > 0 && prevNode[nw.t] < 0 {
			u := queue[0]
			queue = queue[1:]
			for i, a := range nw.adj[u] {
				if a.cap > flowEps && prevNode[a.to] < 0 {
					prevNode[a.to], prevArc[a.to] = u, i
					queue = append(queue, a.to)
				}
			}
		}
		if prevNode[nw.t] < 0 {
			break
		}

		amount := math.Inf(1)
		for v := nw.t; v != nw.s; v = prevNode[v] {
			amount = math.Min(amount, nw.adj[prevNode[v]][prevArc[v]].cap)
		}
		for v := nw.t; v != nw.s; v = prevNode[v] {
			nw.push(prevNode[v], prevArc[v], amount)
		}
		total += amount
	}
	return nw.result(total), nil
}

// Dinic computes the maximum flow from src to sink with level graphs and
// blocking flows. ctx is checked before each phase.
func Dinic(ctx context.Context, g Graph, src, sink string, capacity CostFunc) (*Flow, error) {
	nw, err := buildNetwork(ctx, g, src, sink, capacity, nil)
	if err != nil {
		return nil, err
	}
	if nw.t < 0 || nw.t == nw.s {
		return nw.result(0), nil
	}

	n := nw.nodes.len()
	level := make([]int, n)
	next := make([]int, n)

	bfs := func() bool {
		for i := range level {
			level[i] = -1
		}
		level[nw.s] = 0
		queue := []int{nw.s}
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			for _, a := range nw.adj[u] {
				if a.cap > flowEps && level[a.to] < 0 {
					level[a.to] = level[u] + 1
					queue = append(queue, a.to)
				}
			}
		}
		return level[nw.t] >= 0
	}

	var dfs func(u int, limit float64) float64
	dfs = func(u int, limit float64) float64 {
		if u == nw.t {
			return limit
		}
		for ; next[u] < len(nw.adj[u]); next[u]++ {
			a := nw.adj[u][next[u]]
			if a.cap <= flowEps || level[a.to] != level[u]+1 {
				continue
			}
			if got := dfs(a.to, math.Min(limit, a.cap)); got > flowEps {
				nw.push(u, next[u], got)
				return got
			}
		}
		return 0
	}

	var total float64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !bfs() {
			break
		}
		clear(next)
		for {
			got := dfs(nw.s, math.Inf(1))
			if got <= flowEps {
				break
			}
			total += got
		}
	}
	return nw.result(total), nil
}

// MinCostMaxFlow computes a maximum flow from src to sink of minimum total
// cost, augmenting along cheapest residual paths found with SPFA. Costs
// may be negative as long as the graph has no negative cycle. ctx is
// checked before each augmentation.
func MinCostMaxFlow(ctx context.Context, g Graph, src, sink string, capacity, cost CostFunc) (*Flow, error) {
	nw, err := buildNetwork(ctx, g, src, sink, capacity, cost)
	if err != nil {
		return nil, err
	}
	if nw.t < 0 || nw.t == nw.s {
		return nw.result(0), nil
	}

	n := nw.nodes.len()
	dist := make([]float64, n)
	inQueue := make([]bool, n)
	hops := make([]int, n)
	prevNode := make([]int, n)
	prevArc := make([]int, n)
	var total float64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range dist {
			dist[i] = math.Inf(1)
			prevNode[i] = -1
			hops[i] = 0
		}
		dist[nw.s] = 0
		queue := []int{nw.s}
		inQueue[nw.s] = true
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			inQueue[u] = false
			for i, a := range nw.adj[u] {
				if a.cap <= flowEps {
					continue
				}
				if nd := dist[u] + a.cost; nd < dist[a.to]-flowEps {
					dist[a.to] = nd
					prevNode[a.to], prevArc[a.to] = u, i
					hops[a.to] = hops[u] + 1
					if hops[a.to] >= n {
						return nil, ErrNegativeCycle
					}
					if !inQueue[a.to] {
						inQueue[a.to] = true
						queue = append(queue, a.to)
					}
				}
			}
		}
		if math.IsInf(dist[nw.t], 1) {
			break
		}

		amount := math.Inf(1)
		for v := nw.t; v != nw.s; v = prevNode[v] {
			amount = math.Min(amount, nw.adj[prevNode[v]][prevArc[v]].cap)
		}
		for v := nw.t; v != nw.s; v = prevNode[v] {
			nw.push(prevNode[v], prevArc[v], amount)
		}
		total += amount
	}
	return nw.result(total), nil
}

package algo

import (
	"context"
	"math"
)

// PageRankOptions configures PageRank. Zero values take the defaults.
type PageRankOptions struct {
	Damping    float64 // default 0.85
	Iterations int     // default 20
	Tolerance  float64 // L1 change that ends iteration early; default 1e-6
}

func (o PageRankOptions) withDefaults() PageRankOptions {
	if o.Damping <= 0 || o.Damping >= 1 {
		o.Damping = 0.85
	}
	if o.Iterations <= 0 {
		o.Iterations = 20
	}
	if o.Tolerance <= 0 {
		o.Tolerance = 1e-6
	}
	return o
}

// PageRank scores every node by the stationary distribution of a random
// surfer. Rank held by nodes without outgoing edges is spread evenly over
// all nodes, so scores sum to 1. ctx is checked once per iteration.
func PageRank(ctx context.Context, g Graph, opts PageRankOptions) (map[string]float64, error) {
	opts = opts.withDefaults()
	nodes, err := allNodes(g)
	if err != nil {
		return nil, err
	}
	n := nodes.len()
	if n == 0 {
		return map[string]float64{}, nil
	}

	outDeg := make([]int, n)
	for u, id := range nodes.ids {
		err := eachEdge(g, id, Out, func(_, nbr string) bool {
			if _, ok := nodes.lookup(nbr); ok {
				outDeg[u]++
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}

	rank := make([]float64, n)
	next := make([]float64, n)
	for i := range rank {
		rank[i] = 1 / float64(n)
	}
	for iter := 0; iter < opts.Iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var dangling float64
		for u := range rank {
			if outDeg[u] == 0 {
				dangling += rank[u]
			}
		}
		base := (1-opts.Damping)/float64(n) + opts.Damping*dangling/float64(n)

		// Pull rank over incoming edges.
		for v, id := range nodes.ids {
			var sum float64
			err := eachEdge(g, id, In, func(_, nbr string) bool {
				if u, ok := nodes.lookup(nbr); ok && outDeg[u] > 0 {
					sum += rank[u] / float64(outDeg[u])
				}
				return true
			})
			if err != nil {
				return nil, err
			}
			next[v] = base + opts.Damping*sum
		}

		var delta float64
		for i := range rank {
			delta += math.Abs(next[i] - rank[i])
		}
		rank, next = next, rank
		if delta < opts.Tolerance {
			break
		}
	}

	out := make(map[string]float64, n)
	for i, id := range nodes.ids {
		out[id] = rank[i]
	}
	return out, nil
}

// Degree counts a node's edges.
type Degree struct {
	In  int
	Out int
}

// Total returns In + Out.
func (d Degree) Total() int { return d.In + d.Out }

// DegreeCentrality returns the in and out degree of every node. ctx is
// checked per node.
func DegreeCentrality(ctx context.Context, g Graph) (map[string]Degree, error) {
	nodes, err := allNodes(g)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Degree, nodes.len())
	for _, id := range nodes.ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var d Degree
		if err := eachEdge(g, id, Out, func(_, _ string) bool { d.Out++; return true }); err != nil {
			return nil, err
		}
		if err := eachEdge(g, id, In, func(_, _ string) bool { d.In++; return true }); err != nil {
			return nil, err
		}
		out[id] = d
	}
	return out, nil
}

// Betweenness returns the unnormalized betweenness centrality of every
// node over unweighted directed shortest paths (Brandes). ctx is checked
// per source node.
func Betweenness(ctx context.Context, g Graph) (map[string]float64, error) {
	nodes, err := allNodes(g)
	if err != nil {
		return nil, err
	}
	n := nodes.len()
	succ := make([][]int, n)
	for u, id := range nodes.ids {
		if succ[u], err = neighbors(g, nodes, id, Out); err != nil {
			return nil, err
		}
	}

	cb := make([]float64, n)
	sigma := make([]float64, n)
	dist := make([]int, n)
	delta := make([]float64, n)
	preds := make([][]int, n)
	for s := 0; s < n; s++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			sigma[i], dist[i], delta[i] = 0, -1, 0
			preds[i] = preds[i][:0]
		}
		sigma[s], dist[s] = 1, 0
		order := make([]int, 0, n)
		queue := []int{s}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			order = append(order, v)
			for _, w := range succ[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					preds[w] = append(preds[w], v)
				}
			}
		}
		for i := len(order) - 1; i >= 0; i-- {
			w := order[i]
			for _, v := range preds[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				cb[w] += delta[w]
			}
		}
	}

	out := make(map[string]float64, n)
	for i, id := range nodes.ids {
		out[id] = cb[i]
	}
	return out, nil
}

// Closeness returns, for every node, the number of nodes it reaches
// divided by the sum of hop distances to them. Nodes that reach nothing
// score 0. ctx is checked per source node.
func Closeness(ctx context.Context, g Graph) (map[string]float64, error) {
	nodes, err := allNodes(g)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, nodes.len())
	for _, id := range nodes.ids {
		var reached, total int
		err := BFS(ctx, g, id, Out, func(_ string, depth int) bool {
			if depth > 0 {
				reached++
				total += depth
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		if total > 0 {
			out[id] = float64(reached) / float64(total)
		} else {
			out[id] = 0
		}
	}
	return out, nil
}

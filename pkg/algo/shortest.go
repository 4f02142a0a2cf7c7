package algo

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"strings"
)

// Heuristic estimates the remaining cost from id to the goal. It must
// never overestimate for A* to return an optimal path.
type Heuristic func(id string) float64

// Distances is a single-source shortest path tree.
type Distances struct {
	source   int
	nodes    *nodeTable
	dist     []float64
	prevNode []int
	prevRel  []string
}

func newDistances(nodes *nodeTable, src string) *Distances {
	d := &Distances{nodes: nodes}
	d.source = d.node(src)
	d.dist[d.source] = 0
	return d
}

// node interns id and grows the per-node arrays.
func (d *Distances) node(id string) int {
	i := d.nodes.intern(id)
	for len(d.dist) < d.nodes.len() {
		d.dist = append(d.dist, math.Inf(1))
		d.prevNode = append(d.prevNode, -1)
		d.prevRel = append(d.prevRel, "")
	}
	return i
}

func (d *Distances) relax(from, to int, rel string, nd float64) bool {
	if nd >= d.dist[to] {
		return false
	}
	d.dist[to] = nd
	d.prevNode[to] = from
	if d.prevRel[to] != rel {
		d.prevRel[to] = strings.Clone(rel)
	}
	return true
}

// Source returns the source node.
func (d *Distances) Source() string { return d.nodes.ids[d.source] }

// To returns the distance to id and whether it is reachable.
func (d *Distances) To(id string) (float64, bool) {
	i, ok := d.nodes.lookup(id)
	if !ok || math.IsInf(d.dist[i], 1) {
		return math.Inf(1), false
	}
	return d.dist[i], true
}

// PathTo returns the path to id, or nil when id is unreachable.
func (d *Distances) PathTo(id string) *Path {
	i, ok := d.nodes.lookup(id)
	if !ok || math.IsInf(d.dist[i], 1) {
		return nil
	}
	p := &Path{Cost: d.dist[i]}
	for ; i != d.source; i = d.prevNode[i] {
		p.Nodes = append(p.Nodes, d.nodes.ids[i])
		p.Rels = append(p.Rels, d.prevRel[i])
	}
	p.Nodes = append(p.Nodes, d.nodes.ids[d.source])
	reverse(p.Nodes)
	reverse(p.Rels)
	return p
}

// Reached returns every reachable node, source included.
func (d *Distances) Reached() []string {
	var out []string
	for i, v := range d.dist {
		if !math.IsInf(v, 1) {
			out = append(out, d.nodes.ids[i])
		}
	}
	return out
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

type pqItem struct {
	node int
	dist float64
	pri  float64
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int           { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool { return pq[i].pri < pq[j].pri }
func (pq priorityQueue) Swap(i, j int)      { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x any)        { *pq = append(*pq, x.(pqItem)) }
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// bestFirst runs Dijkstra (h == nil) or A*. With dst == "" it settles
// every reachable node. ctx is checked at each queue pop.
func bestFirst(ctx context.Context, g Graph, src, dst string, cost CostFunc, h Heuristic) (*Distances, error) {
	d := newDistances(newNodeTable(), src)
	goal := -1
	if dst != "" {
		goal = d.node(dst)
	}
	estimate := func(i int) float64 {
		if h == nil {
			return 0
		}
		return h(d.nodes.ids[i])
	}

	pq := &priorityQueue{{node: d.source, dist: 0, pri: estimate(d.source)}}
	for pq.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := heap.Pop(pq).(pqItem)
		if cur.dist > d.dist[cur.node] {
			continue
		}
		if cur.node == goal {
			break
		}

		from := d.nodes.ids[cur.node]
		var werr error
		err := eachEdge(g, from, Out, func(rel, nbr string) bool {
			w := cost(rel, from, nbr)
			if w < 0 {
				werr = fmt.Errorf("%w: %s %s->%s = %g", ErrNegativeWeight, rel, from, nbr, w)
				return false
			}
			to := d.node(nbr)
			if nd := cur.dist + w; d.relax(cur.node, to, rel, nd) {
				heap.Push(pq, pqItem{node: to, dist: nd, pri: nd + estimate(to)})
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		if werr != nil {
			return nil, werr
		}
	}
	return d, nil
}

// Dijkstra returns the cheapest path from src to dst, or nil when dst is
// unreachable. Costs must be non-negative.
func Dijkstra(ctx context.Context, g Graph, src, dst string, cost CostFunc) (*Path, error) {
	d, err := bestFirst(ctx, g, src, dst, cost, nil)
	if err != nil {
		return nil, err
	}
	return d.PathTo(dst), nil
}

// DijkstraFrom returns the shortest path tree from src.
func DijkstraFrom(ctx context.Context, g Graph, src string, cost CostFunc) (*Distances, error) {
	return bestFirst(ctx, g, src, "", cost, nil)
}

// AStar returns the cheapest path from src to dst guided by h, or nil when
// dst is unreachable.
func AStar(ctx context.Context, g Graph, src, dst string, cost CostFunc, h Heuristic) (*Path, error) {
	d, err := bestFirst(ctx, g, src, dst, cost, h)
	if err != nil {
		return nil, err
	}
	return d.PathTo(dst), nil
}

// BellmanFord returns the shortest path tree from src, allowing negative
// costs. ctx is checked once per relaxation round.
func BellmanFord(ctx context.Context, g Graph, src string, cost CostFunc) (*Distances, error) {
	nodes, err := allNodes(g)
	if err != nil {
		return nil, err
	}
	d := newDistances(nodes, src)
	n := nodes.len()

	relaxAll := func() (bool, error) {
		changed := false
		for u := 0; u < n; u++ {
			if math.IsInf(d.dist[u], 1) {
				continue
			}
			from := nodes.ids[u]
			err := eachEdge(g, from, Out, func(rel, nbr string) bool {
				if d.relax(u, d.node(nbr), rel, d.dist[u]+cost(rel, from, nbr)) {
					changed = true
				}
				return true
			})
			if err != nil {
				return false, err
			}
		}
		return changed, nil
	}

	for round := 0; round < n-1; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		changed, err := relaxAll()
		if err != nil {
			return nil, err
		}
		if !changed {
			return d, nil
		}
	}
	changed, err := relaxAll()
	if err != nil {
		return nil, err
	}
	if changed {
		return nil, ErrNegativeCycle
	}
	return d, nil
}

// SPFA is the queue-based Bellman-Ford variant. ctx is checked at each
// queue pop.
func SPFA(ctx context.Context, g Graph, src string, cost CostFunc) (*Distances, error) {
	nodes, err := allNodes(g)
	if err != nil {
		return nil, err
	}
	d := newDistances(nodes, src)
	n := max(nodes.len(), 1)

	// hops[v] is the edge count of the current best path to v; a path of
	// n or more edges repeats a node, which only a negative cycle allows.
	inQueue := make([]bool, nodes.len())
	hops := make([]int, nodes.len())
	queue := []int{d.source}
	inQueue[d.source] = true

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u := queue[0]
		queue = queue[1:]
		inQueue[u] = false
		from := nodes.ids[u]

		cycle := false
		err := eachEdge(g, from, Out, func(rel, nbr string) bool {
			v := d.node(nbr)
			for len(inQueue) < nodes.len() {
				inQueue = append(inQueue, false)
				hops = append(hops, 0)
			}
			if !d.relax(u, v, rel, d.dist[u]+cost(rel, from, nbr)) {
				return true
			}
			hops[v] = hops[u] + 1
			if hops[v] >= n {
				cycle = true
				return false
			}
			if !inQueue[v] {
				inQueue[v] = true
				queue = append(queue, v)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		if cycle {
			return nil, ErrNegativeCycle
		}
	}
	return d, nil
}

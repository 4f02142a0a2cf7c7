package algo

import (
	"context"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
)

// halfEdge is one side of an edge in the undirected view.
type halfEdge struct {
	nbr     int
	rel     int
	forward bool
}

// undirected lists both directions of id's edges. Self loops are dropped.
func undirected(g Graph, nodes, rels *nodeTable, id string) ([]halfEdge, error) {
	u, _ := nodes.lookup(id)
	var out []halfEdge
	add := func(forward bool) func(rel, nbr string) bool {
		return func(rel, nbr string) bool {
			if v, ok := nodes.lookup(nbr); ok && v != u {
				out = append(out, halfEdge{nbr: v, rel: rels.intern(rel), forward: forward})
			}
			return true
		}
	}
	if _, err := eachPair(g.Outgoing, id, add(true)); err != nil {
		return nil, err
	}
	if _, err := eachPair(g.Incoming, id, add(false)); err != nil {
		return nil, err
	}
	return out, nil
}

// lowlink runs an iterative DFS over the undirected view, calling onTree
// when a child's subtree is finished. Each child is skipped over its
// parent edge exactly once, so parallel edges count as back edges.
func lowlink(ctx context.Context, g Graph, onTree func(nodes, rels *nodeTable, disc, low []int, parent int, e halfEdge, root bool)) (*nodeTable, error) {
	nodes, err := allNodes(g)
	if err != nil {
		return nil, err
	}
	rels := newNodeTable()
	n := nodes.len()
	disc := make([]int, n)
	low := make([]int, n)
	children := make([]int, n)
	for i := range disc {
		disc[i] = -1
	}

	type frame struct {
		v, parent int
		via       halfEdge
		edges     []halfEdge
		next      int
		skipped   bool
	}
	timer := 0
	for root := 0; root < n; root++ {
		if disc[root] >= 0 {
			continue
		}
		edges, err := undirected(g, nodes, rels, nodes.ids[root])
		if err != nil {
			return nil, err
		}
		disc[root], low[root] = timer, timer
		timer++
		call := []frame{{v: root, parent: -1, edges: edges}}
		for len(call) > 0 {
			top := &call[len(call)-1]
			if top.next < len(top.edges) {
				e := top.edges[top.next]
				top.next++
				w := e.nbr
				if w == top.parent && !top.skipped {
					top.skipped = true
					continue
				}
				if disc[w] >= 0 {
					low[top.v] = min(low[top.v], disc[w])
					continue
				}
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				wEdges, err := undirected(g, nodes, rels, nodes.ids[w])
				if err != nil {
					return nil, err
				}
				disc[w], low[w] = timer, timer
				timer++
				children[top.v]++
				call = append(call, frame{v: w, parent: top.v, via: e, edges: wEdges})
				continue
			}
			done := *top
			call = call[:len(call)-1]
			if done.parent >= 0 {
				low[done.parent] = min(low[done.parent], low[done.v])
				child := done.via
				child.nbr = done.v
				onTree(nodes, rels, disc, low, done.parent, child, done.parent == root)
			}
		}
		if children[root] > 1 {
			// Root articulation is decided by child count.
			onTree(nodes, rels, disc, low, root, halfEdge{nbr: -1}, true)
		}
	}
	return nodes, nil
}

// Bridges returns the edges whose removal disconnects the undirected view
// of g, sorted by endpoint. Edges keep their stored direction. ctx is
// checked at each tree edge.
func Bridges(ctx context.Context, g Graph) ([]Edge, error) {
	var out []Edge
	_, err := lowlink(ctx, g, func(nodes, rels *nodeTable, disc, low []int, parent int, e halfEdge, _ bool) {
		if e.nbr < 0 || low[e.nbr] <= disc[parent] {
			return
		}
		from, to := nodes.ids[parent], nodes.ids[e.nbr]
		if !e.forward {
			from, to = to, from
		}
		out = append(out, Edge{Rel: rels.ids[e.rel], From: from, To: to})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out, nil
}

// ArticulationPoints returns the nodes whose removal disconnects the
// undirected view of g, sorted. ctx is checked at each tree edge.
func ArticulationPoints(ctx context.Context, g Graph) ([]string, error) {
	cut := make(map[int]struct{})
	nodes, err := lowlink(ctx, g, func(_, _ *nodeTable, disc, low []int, parent int, e halfEdge, root bool) {
		switch {
		case e.nbr < 0:
			cut[parent] = struct{}{}
		case !root && low[e.nbr] >= disc[parent]:
			cut[parent] = struct{}{}
		}
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(cut))
	for i := range cut {
		out = append(out, nodes.ids[i])
	}
	sort.Strings(out)
	return out, nil
}

// TransitiveClosure maps every node to the sorted list of nodes reachable
// from it over at least one edge. A node appears in its own list only when
// it lies on a cycle. ctx is checked per source node.
func TransitiveClosure(ctx context.Context, g Graph) (map[string][]string, error) {
	nodes, err := allNodes(g)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, nodes.len())
	for _, id := range nodes.ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seen := roaring.New()
		var queue []int
		push := func(_, nbr string) bool {
			if v, ok := nodes.lookup(nbr); ok && seen.CheckedAdd(uint32(v)) {
				queue = append(queue, v)
			}
			return true
		}
		if err := eachEdge(g, id, Out, push); err != nil {
			return nil, err
		}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			if err := eachEdge(g, nodes.ids[v], Out, push); err != nil {
				return nil, err
			}
		}
		if seen.IsEmpty() {
			continue
		}
		reach := make([]string, 0, seen.GetCardinality())
		it := seen.Iterator()
		for it.HasNext() {
			reach = append(reach, nodes.ids[it.Next()])
		}
		sort.Strings(reach)
		out[id] = reach
	}
	return out, nil
}

// TopologicalSort orders the nodes so every edge points forward, using
// Kahn's algorithm. Nodes that become ready together are emitted in id
// order. It returns ErrNotDAG when g has a cycle.
func TopologicalSort(ctx context.Context, g Graph) ([]string, error) {
	nodes, order, err := topoOrder(ctx, g)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(order))
	for i, v := range order {
		out[i] = nodes.ids[v]
	}
	return out, nil
}

func topoOrder(ctx context.Context, g Graph) (*nodeTable, []int, error) {
	nodes, err := allNodes(g)
	if err != nil {
		return nil, nil, err
	}
	n := nodes.len()
	indeg := make([]int, n)
	succ := make([][]int, n)
	for u, id := range nodes.ids {
		succ[u], err = neighbors(g, nodes, id, Out)
		if err != nil {
			return nil, nil, err
		}
		for _, v := range succ[u] {
			indeg[v]++
		}
	}

	byID := func(s []int) {
		sort.Slice(s, func(i, j int) bool { return nodes.ids[s[i]] < nodes.ids[s[j]] })
	}
	var ready []int
	for v := 0; v < n; v++ {
		if indeg[v] == 0 {
			ready = append(ready, v)
		}
	}
	byID(ready)

	order := make([]int, 0, n)
	for len(ready) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		u := ready[0]
		ready = ready[1:]
		order = append(order, u)
		var next []int
		for _, v := range succ[u] {
			if indeg[v]--; indeg[v] == 0 {
				next = append(next, v)
			}
		}
		byID(next)
		ready = append(ready, next...)
	}
	if len(order) != n {
		return nil, nil, ErrNotDAG
	}
	return nodes, order, nil
}

// TransitiveReduction returns the edges of a DAG that are not implied by
// longer paths. Parallel edges collapse to the first relationship seen.
// It returns ErrNotDAG when g has a cycle. ctx is checked per node.
func TransitiveReduction(ctx context.Context, g Graph) ([]Edge, error) {
	nodes, order, err := topoOrder(ctx, g)
	if err != nil {
		return nil, err
	}

	type direct struct {
		to  int
		rel string
	}
	n := nodes.len()
	succ := make([][]direct, n)
	desc := make([]*roaring.Bitmap, n)
	for i := len(order) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u := order[i]
		seen := make(map[int]struct{})
		_, err := eachPair(g.Outgoing, nodes.ids[u], func(rel, nbr string) bool {
			v, ok := nodes.lookup(nbr)
			if !ok {
				return true
			}
			if _, dup := seen[v]; !dup {
				seen[v] = struct{}{}
				succ[u] = append(succ[u], direct{to: v, rel: strings.Clone(rel)})
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		// Successors sit later in topological order, so desc is ready.
		d := roaring.New()
		for _, s := range succ[u] {
			d.Add(uint32(s.to))
			d.Or(desc[s.to])
		}
		desc[u] = d
	}

	var out []Edge
	for u := 0; u < n; u++ {
		for _, s := range succ[u] {
			implied := false
			for _, w := range succ[u] {
				if w.to != s.to && desc[w.to].Contains(uint32(s.to)) {
					implied = true
					break
				}
			}
			if !implied {
				out = append(out, Edge{Rel: s.rel, From: nodes.ids[u], To: nodes.ids[s.to]})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out, nil
}

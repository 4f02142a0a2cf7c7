package algo

import (
	"context"
	"slices"
	"sort"
)

// neighbors returns the dense indexes of id's neighbors in direction dir.
// Neighbors missing from the table are skipped.
func neighbors(g Graph, nodes *nodeTable, id string, dir Direction) ([]int, error) {
	var out []int
	err := eachEdge(g, id, dir, func(_, nbr string) bool {
		if v, ok := nodes.lookup(nbr); ok {
			out = append(out, v)
		}
		return true
	})
	return out, err
}

// sortComponents orders members within each component and components by
// their smallest member.
func sortComponents(comps [][]string) [][]string {
	for _, c := range comps {
		sort.Strings(c)
	}
	sort.Slice(comps, func(i, j int) bool { return comps[i][0] < comps[j][0] })
	return comps
}

// TarjanSCC returns the strongly connected components. Each component is
// sorted and components are ordered by their smallest member. ctx is
// checked each time a node is first visited.
func TarjanSCC(ctx context.Context, g Graph) ([][]string, error) {
	nodes, err := allNodes(g)
	if err != nil {
		return nil, err
	}
	n := nodes.len()
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}

	type frame struct {
		v    int
		nbrs []int
		next int
	}
	var (
		stack   []int
		comps   [][]string
		counter int
	)

	for root := 0; root < n; root++ {
		if index[root] >= 0 {
			continue
		}
		var call []frame
		enter := func(v int) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			nbrs, err := neighbors(g, nodes, nodes.ids[v], Out)
			if err != nil {
				return err
			}
			index[v], low[v] = counter, counter
			counter++
			stack = append(stack, v)
			onStack[v] = true
			call = append(call, frame{v: v, nbrs: nbrs})
			return nil
		}
		if err := enter(root); err != nil {
			return nil, err
		}

		for len(call) > 0 {
			top := &call[len(call)-1]
			if top.next < len(top.nbrs) {
				w := top.nbrs[top.next]
				top.next++
				if index[w] < 0 {
					if err := enter(w); err != nil {
						return nil, err
					}
				} else if onStack[w] {
					low[top.v] = min(low[top.v], index[w])
				}
				continue
			}

			v := top.v
			call = call[:len(call)-1]
			if len(call) > 0 {
				parent := call[len(call)-1].v
				low[parent] = min(low[parent], low[v])
			}
			if low[v] == index[v] {
				var comp []string
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					comp = append(comp, nodes.ids[w])
					if w == v {
						break
					}
				}
				comps = append(comps, comp)
			}
		}
	}
	return sortComponents(comps), nil
}

// KosarajuSCC returns the strongly connected components using two passes:
// finish order over outgoing edges, then collection over incoming edges in
// reverse finish order. Output order matches TarjanSCC. ctx is checked at
// each node visit.
func KosarajuSCC(ctx context.Context, g Graph) ([][]string, error) {
	nodes, err := allNodes(g)
	if err != nil {
		return nil, err
	}
	n := nodes.len()
	visited := make([]bool, n)
	order := make([]int, 0, n)

	type frame struct {
		v    int
		nbrs []int
		next int
	}
	for root := 0; root < n; root++ {
		if visited[root] {
			continue
		}
		visited[root] = true
		nbrs, err := neighbors(g, nodes, nodes.ids[root], Out)
		if err != nil {
			return nil, err
		}
		call := []frame{{v: root, nbrs: nbrs}}
		for len(call) > 0 {
			top := &call[len(call)-1]
			if top.next < len(top.nbrs) {
				w := top.nbrs[top.next]
				top.next++
				if visited[w] {
					continue
				}
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				visited[w] = true
				wn, err := neighbors(g, nodes, nodes.ids[w], Out)
				if err != nil {
					return nil, err
				}
				call = append(call, frame{v: w, nbrs: wn})
				continue
			}
			order = append(order, top.v)
			call = call[:len(call)-1]
		}
	}

	assigned := make([]bool, n)
	var comps [][]string
	for _, root := range slices.Backward(order) {
		if assigned[root] {
			continue
		}
		var comp []string
		stack := []int{root}
		assigned[root] = true
		for len(stack) > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			v := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp = append(comp, nodes.ids[v])
			preds, err := neighbors(g, nodes, nodes.ids[v], In)
			if err != nil {
				return nil, err
			}
			for _, u := range preds {
				if !assigned[u] {
					assigned[u] = true
					stack = append(stack, u)
				}
			}
		}
		comps = append(comps, comp)
	}
	return sortComponents(comps), nil
}

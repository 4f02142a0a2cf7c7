package algo

import (
	"context"
)

// Coloring assigns each node a color such that adjacent nodes differ.
type Coloring struct {
	Colors    map[string]int
	NumColors int
}

// DSATUR colors the undirected view of g greedily, always coloring next
// the node whose neighbors already use the most distinct colors, breaking
// ties by degree and then by id. Neighbor lists are read through guards
// each time they are needed. Self loops are ignored. ctx is checked per
// colored node.
func DSATUR(ctx context.Context, g Graph) (*Coloring, error) {
	nodes, err := allNodes(g)
	if err != nil {
		return nil, err
	}
	n := nodes.len()
	degree := make([]int, n)
	color := make([]int, n)
	satur := make([]map[int]struct{}, n)
	for i := range color {
		color[i] = -1
		satur[i] = make(map[int]struct{})
	}

	each := func(u int, fn func(v int)) error {
		return eachEdge(g, nodes.ids[u], Both, func(_, nbr string) bool {
			if v, ok := nodes.lookup(nbr); ok && v != u {
				fn(v)
			}
			return true
		})
	}
	for u := 0; u < n; u++ {
		if err := each(u, func(int) { degree[u]++ }); err != nil {
			return nil, err
		}
	}

	numColors := 0
	used := make(map[int]struct{})
	for step := 0; step < n; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pick := -1
		for u := 0; u < n; u++ {
			if color[u] >= 0 {
				continue
			}
			if pick < 0 || better(len(satur[u]), degree[u], nodes.ids[u], len(satur[pick]), degree[pick], nodes.ids[pick]) {
				pick = u
			}
		}

		clear(used)
		if err := each(pick, func(v int) {
			if color[v] >= 0 {
				used[color[v]] = struct{}{}
			}
		}); err != nil {
			return nil, err
		}
		c := 0
		for {
			if _, taken := used[c]; !taken {
				break
			}
			c++
		}
		color[pick] = c
		numColors = max(numColors, c+1)

		if err := each(pick, func(v int) {
			if color[v] < 0 {
				satur[v][c] = struct{}{}
			}
		}); err != nil {
			return nil, err
		}
	}

	out := &Coloring{Colors: make(map[string]int, n), NumColors: numColors}
	for i, id := range nodes.ids {
		out.Colors[id] = color[i]
	}
	return out, nil
}

func better(satA, degA int, idA string, satB, degB int, idB string) bool {
	if satA != satB {
		return satA > satB
	}
	if degA != degB {
		return degA > degB
	}
	return idA < idB
}

package algo

import (
	"context"
	"strings"

	"github.com/ocentra/TabAgentServer-sub005/pkg/pool"
)

// VisitFunc receives each reached node with its depth from the start.
// Returning false stops the traversal.
type VisitFunc func(id string, depth int) bool

// BFS visits nodes reachable from start in breadth-first order, start
// first. ctx is checked before each layer.
func BFS(ctx context.Context, g Graph, start string, dir Direction, visit VisitFunc) error {
	seen := map[string]struct{}{start: {}}
	frontier := append(pool.GetStringSlice(), start)
	next := pool.GetStringSlice()
	defer func() {
		pool.PutStringSlice(frontier)
		pool.PutStringSlice(next)
	}()

	for depth := 0; len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		next = next[:0]
		for _, id := range frontier {
			if !visit(id, depth) {
				return nil
			}
			err := eachEdge(g, id, dir, func(_, nbr string) bool {
				if _, ok := seen[nbr]; !ok {
					nbr = strings.Clone(nbr)
					seen[nbr] = struct{}{}
					next = append(next, nbr)
				}
				return true
			})
			if err != nil {
				return err
			}
		}
		frontier, next = next, frontier
	}
	return nil
}

// DFS visits nodes reachable from start in depth-first preorder, following
// adjacency order. ctx is checked at each stack pop.
func DFS(ctx context.Context, g Graph, start string, dir Direction, visit VisitFunc) error {
	seen := make(map[string]struct{})
	stack := append(pool.GetStringSlice(), start)
	children := pool.GetStringSlice()
	depths := []int{0}
	defer func() {
		pool.PutStringSlice(stack)
		pool.PutStringSlice(children)
	}()

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := stack[len(stack)-1]
		depth := depths[len(depths)-1]
		stack = stack[:len(stack)-1]
		depths = depths[:len(depths)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if !visit(id, depth) {
			return nil
		}

		children = children[:0]
		err := eachEdge(g, id, dir, func(_, nbr string) bool {
			if _, ok := seen[nbr]; !ok {
				children = append(children, strings.Clone(nbr))
			}
			return true
		})
		if err != nil {
			return err
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
			depths = append(depths, depth+1)
		}
	}
	return nil
}

// Reachable returns every node reachable from start, start included, in
// BFS order.
func Reachable(ctx context.Context, g Graph, start string, dir Direction) ([]string, error) {
	var out []string
	err := BFS(ctx, g, start, dir, func(id string, _ int) bool {
		out = append(out, id)
		return true
	})
	return out, err
}

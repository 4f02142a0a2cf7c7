package algo

import (
	"context"
	"slices"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// MaximalCliques lists the maximal cliques of the undirected view of g
// with at least minSize members, using Bron-Kerbosch with pivoting. Each
// clique is sorted and cliques are ordered lexicographically. Neighbor
// sets are loaded through guards on first use. ctx is checked at each
// recursive call.
func MaximalCliques(ctx context.Context, g Graph, minSize int) ([][]string, error) {
	nodes, err := allNodes(g)
	if err != nil {
		return nil, err
	}
	n := nodes.len()
	adj := make([]*roaring.Bitmap, n)
	nbrs := func(u int) (*roaring.Bitmap, error) {
		if adj[u] != nil {
			return adj[u], nil
		}
		b := roaring.New()
		err := eachEdge(g, nodes.ids[u], Both, func(_, nbr string) bool {
			if v, ok := nodes.lookup(nbr); ok && v != u {
				b.Add(uint32(v))
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		adj[u] = b
		return b, nil
	}

	var out [][]string
	var r []int
	var bk func(p, x *roaring.Bitmap) error
	bk = func(p, x *roaring.Bitmap) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.IsEmpty() && x.IsEmpty() {
			if len(r) >= minSize {
				clique := make([]string, len(r))
				for i, v := range r {
					clique[i] = nodes.ids[v]
				}
				sort.Strings(clique)
				out = append(out, clique)
			}
			return nil
		}

		pivot, best := -1, -1
		for _, cand := range []*roaring.Bitmap{p, x} {
			it := cand.Iterator()
			for it.HasNext() {
				u := int(it.Next())
				nu, err := nbrs(u)
				if err != nil {
					return err
				}
				if c := int(p.AndCardinality(nu)); c > best {
					pivot, best = u, c
				}
			}
		}
		np, err := nbrs(pivot)
		if err != nil {
			return err
		}

		for _, v := range roaring.AndNot(p, np).ToArray() {
			nv, err := nbrs(int(v))
			if err != nil {
				return err
			}
			r = append(r, int(v))
			if err := bk(roaring.And(p, nv), roaring.And(x, nv)); err != nil {
				return err
			}
			r = r[:len(r)-1]
			p.Remove(v)
			x.Add(v)
		}
		return nil
	}

	all := roaring.New()
	all.AddRange(0, uint64(n))
	if err := bk(all, roaring.New()); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return slices.Compare(out[i], out[j]) < 0 })
	return out, nil
}

package algo

import (
	"context"
	"sort"
)

// LouvainOptions configures Louvain. Zero values take the defaults.
type LouvainOptions struct {
	Resolution float64  // default 1
	MaxPasses  int      // local moving passes per level; default 16
	Weight     CostFunc // default UnitCost
}

// Communities is a partition of the nodes.
type Communities struct {
	// Groups holds sorted members per community, ordered by smallest member.
	Groups [][]string
	// Membership maps each node to its index in Groups.
	Membership map[string]int
	Modularity float64
}

type weighted struct {
	to int
	w  float64
}

// wgraph is an undirected weighted graph. A self loop of weight w is
// stored as adj[i] entry {i, 2w} so that degrees sum to twice the total
// weight.
type wgraph struct {
	adj [][]weighted
	k   []float64
	m2  float64
}

func newWGraph(raw []map[int]float64) *wgraph {
	wg := &wgraph{adj: make([][]weighted, len(raw)), k: make([]float64, len(raw))}
	for i, m := range raw {
		for j, w := range m {
			wg.adj[i] = append(wg.adj[i], weighted{to: j, w: w})
			wg.k[i] += w
		}
		sort.Slice(wg.adj[i], func(a, b int) bool { return wg.adj[i][a].to < wg.adj[i][b].to })
		wg.m2 += wg.k[i]
	}
	return wg
}

// moveNodes runs local moving until no node changes community or passes
// run out. It reports whether any node moved.
func (wg *wgraph) moveNodes(ctx context.Context, comm []int, res float64, passes int) (bool, error) {
	n := len(wg.adj)
	tot := make([]float64, n)
	for i := range comm {
		tot[comm[i]] += wg.k[i]
	}
	kin := make([]float64, n)
	var touched []int
	moved := false
	for pass := 0; pass < passes; pass++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		changed := false
		for i := 0; i < n; i++ {
			old := comm[i]
			tot[old] -= wg.k[i]
			touched = touched[:0]
			for _, e := range wg.adj[i] {
				if e.to == i {
					continue
				}
				c := comm[e.to]
				if kin[c] == 0 {
					touched = append(touched, c)
				}
				kin[c] += e.w
			}

			gain := func(c int) float64 {
				return kin[c] - res*tot[c]*wg.k[i]/wg.m2
			}
			best, bestGain := old, gain(old)
			for _, c := range touched {
				if g := gain(c); g > bestGain+1e-12 {
					best, bestGain = c, g
				}
			}
			for _, c := range touched {
				kin[c] = 0
			}
			kin[old] = 0

			comm[i] = best
			tot[best] += wg.k[i]
			if best != old {
				changed = true
				moved = true
			}
		}
		if !changed {
			break
		}
	}
	return moved, nil
}

// aggregate collapses each community into a node. It returns the new
// graph and the renumbered community of every current node.
func (wg *wgraph) aggregate(comm []int) (*wgraph, []int) {
	renum := make(map[int]int)
	mapped := make([]int, len(comm))
	for i, c := range comm {
		id, ok := renum[c]
		if !ok {
			id = len(renum)
			renum[c] = id
		}
		mapped[i] = id
	}
	raw := make([]map[int]float64, len(renum))
	for i := range raw {
		raw[i] = make(map[int]float64)
	}
	for i, edges := range wg.adj {
		for _, e := range edges {
			raw[mapped[i]][mapped[e.to]] += e.w
		}
	}
	return newWGraph(raw), mapped
}

// Louvain partitions the undirected view of g by greedy modularity
// optimization: local moving followed by aggregation, repeated until no
// node moves. Nodes are visited in a fixed order so runs are
// deterministic. ctx is checked once per local moving pass.
func Louvain(ctx context.Context, g Graph, opts LouvainOptions) (*Communities, error) {
	if opts.Resolution <= 0 {
		opts.Resolution = 1
	}
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = 16
	}
	if opts.Weight == nil {
		opts.Weight = UnitCost
	}

	nodes, err := allNodes(g)
	if err != nil {
		return nil, err
	}
	n := nodes.len()
	raw := make([]map[int]float64, n)
	for i := range raw {
		raw[i] = make(map[int]float64)
	}
	for u, from := range nodes.ids {
		_, err := eachPair(g.Outgoing, from, func(rel, nbr string) bool {
			v, ok := nodes.lookup(nbr)
			if !ok {
				return true
			}
			w := opts.Weight(rel, from, nbr)
			if u == v {
				raw[u][u] += 2 * w
			} else {
				raw[u][v] += w
				raw[v][u] += w
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	base := newWGraph(raw)

	// member[i] is the community of original node i at the current level.
	member := make([]int, n)
	for i := range member {
		member[i] = i
	}
	level := base
	for level.m2 > 0 {
		comm := make([]int, len(level.adj))
		for i := range comm {
			comm[i] = i
		}
		moved, err := level.moveNodes(ctx, comm, opts.Resolution, opts.MaxPasses)
		if err != nil {
			return nil, err
		}
		if !moved {
			break
		}
		next, mapped := level.aggregate(comm)
		for i := range member {
			member[i] = mapped[member[i]]
		}
		level = next
	}

	return buildCommunities(nodes, member, base, opts.Resolution), nil
}

func buildCommunities(nodes *nodeTable, member []int, wg *wgraph, res float64) *Communities {
	groups := make(map[int][]string)
	for i, c := range member {
		groups[c] = append(groups[c], nodes.ids[i])
	}
	out := &Communities{Membership: make(map[string]int, len(member))}
	for _, g := range groups {
		sort.Strings(g)
		out.Groups = append(out.Groups, g)
	}
	sort.Slice(out.Groups, func(i, j int) bool { return out.Groups[i][0] < out.Groups[j][0] })
	for gi, g := range out.Groups {
		for _, id := range g {
			out.Membership[id] = gi
		}
	}
	out.Modularity = modularity(wg, member, res)
	return out
}

func modularity(wg *wgraph, comm []int, res float64) float64 {
	if wg.m2 == 0 {
		return 0
	}
	in := make(map[int]float64)
	tot := make(map[int]float64)
	for i, edges := range wg.adj {
		tot[comm[i]] += wg.k[i]
		for _, e := range edges {
			if comm[e.to] == comm[i] {
				in[comm[i]] += e.w
			}
		}
	}
	var q float64
	for c, t := range tot {
		q += in[c]/wg.m2 - res*(t/wg.m2)*(t/wg.m2)
	}
	return q
}

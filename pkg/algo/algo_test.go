package algo

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocentra/TabAgentServer-sub005/pkg/graph"
	"github.com/ocentra/TabAgentServer-sub005/pkg/lockfree"
	"github.com/ocentra/TabAgentServer-sub005/pkg/storage"
)

type edge struct {
	from, to string
	w        float64
}

type weights map[[2]string]float64

func (w weights) cost(_, from, to string) float64 { return w[[2]string{from, to}] }

// snapshotOf stores edges in an in-memory graph index and returns a
// snapshot over them plus the weight table.
func snapshotOf(t *testing.T, edges ...edge) (*graph.Snapshot, weights) {
	t.Helper()
	store, err := storage.NewBadgerStoreInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	idx := graph.New(store, graph.Options{})
	w := make(weights)
	for _, e := range edges {
		require.NoError(t, idx.AddEdge("link", e.from, e.to))
		w[[2]string{e.from, e.to}] = e.w
	}
	snap, err := idx.Snapshot()
	require.NoError(t, err)
	t.Cleanup(snap.Close)
	return snap, w
}

func hotOf(t *testing.T, edges ...edge) *lockfree.Graph {
	t.Helper()
	g := lockfree.NewGraph(lockfree.GraphOptions{Buckets: 16})
	for _, e := range edges {
		require.NoError(t, g.AddEdge("link", e.from, e.to))
	}
	return g
}

var diamond = []edge{
	{"a", "b", 1},
	{"b", "c", 2},
	{"a", "c", 5},
	{"c", "d", 1},
}

func TestShortestPaths(t *testing.T) {
	ctx := context.Background()
	g, w := snapshotOf(t, diamond...)

	t.Run("dijkstra", func(t *testing.T) {
		p, err := Dijkstra(ctx, g, "a", "d", w.cost)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, []string{"a", "b", "c", "d"}, p.Nodes)
		assert.Equal(t, []string{"link", "link", "link"}, p.Rels)
		assert.Equal(t, 4.0, p.Cost)
	})

	t.Run("dijkstra_unreachable", func(t *testing.T) {
		p, err := Dijkstra(ctx, g, "d", "a", w.cost)
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("dijkstra_negative_weight", func(t *testing.T) {
		_, err := Dijkstra(ctx, g, "a", "d", func(_, _, _ string) float64 { return -1 })
		assert.ErrorIs(t, err, ErrNegativeWeight)
	})

	t.Run("astar", func(t *testing.T) {
		h := func(id string) float64 {
			return map[string]float64{"a": 3, "b": 2, "c": 1}[id]
		}
		p, err := AStar(ctx, g, "a", "d", w.cost, h)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, []string{"a", "b", "c", "d"}, p.Nodes)
		assert.Equal(t, 4.0, p.Cost)
	})

	t.Run("single_source_variants_agree", func(t *testing.T) {
		dj, err := DijkstraFrom(ctx, g, "a", w.cost)
		require.NoError(t, err)
		bf, err := BellmanFord(ctx, g, "a", w.cost)
		require.NoError(t, err)
		sp, err := SPFA(ctx, g, "a", w.cost)
		require.NoError(t, err)

		want := map[string]float64{"a": 0, "b": 1, "c": 3, "d": 4}
		for _, d := range []*Distances{dj, bf, sp} {
			assert.Equal(t, "a", d.Source())
			assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, d.Reached())
			for id, dist := range want {
				got, ok := d.To(id)
				assert.True(t, ok, id)
				assert.Equal(t, dist, got, id)
			}
			assert.Equal(t, []string{"a", "b", "c", "d"}, d.PathTo("d").Nodes)
		}
	})

	t.Run("negative_edge", func(t *testing.T) {
		neg := func(_, from, to string) float64 {
			if from == "a" && to == "c" {
				return -2
			}
			return w.cost("", from, to)
		}
		bf, err := BellmanFord(ctx, g, "a", neg)
		require.NoError(t, err)
		got, _ := bf.To("d")
		assert.Equal(t, -1.0, got)

		sp, err := SPFA(ctx, g, "a", neg)
		require.NoError(t, err)
		got, _ = sp.To("d")
		assert.Equal(t, -1.0, got)
	})
}

func TestNegativeCycle(t *testing.T) {
	ctx := context.Background()
	g, _ := snapshotOf(t, edge{"a", "b", 0}, edge{"b", "c", 0}, edge{"c", "a", 0})
	neg := func(_, _, _ string) float64 { return -1 }

	_, err := BellmanFord(ctx, g, "a", neg)
	assert.ErrorIs(t, err, ErrNegativeCycle)
	_, err = SPFA(ctx, g, "a", neg)
	assert.ErrorIs(t, err, ErrNegativeCycle)
	_, err = FloydWarshall(ctx, g, neg)
	assert.ErrorIs(t, err, ErrNegativeCycle)
	_, err = Johnson(ctx, g, neg)
	assert.ErrorIs(t, err, ErrNegativeCycle)
}

func TestAllPairs(t *testing.T) {
	ctx := context.Background()
	g, w := snapshotOf(t, append(diamond, edge{"d", "a", 2}, edge{"b", "d", 7})...)

	fw, err := FloydWarshall(ctx, g, w.cost)
	require.NoError(t, err)
	jn, err := Johnson(ctx, g, w.cost)
	require.NoError(t, err)
	assert.ElementsMatch(t, fw.Nodes(), jn.Nodes())

	for _, src := range fw.Nodes() {
		tree, err := DijkstraFrom(ctx, g, src, w.cost)
		require.NoError(t, err)
		for _, dst := range fw.Nodes() {
			want, wantOK := tree.To(dst)
			got, ok := fw.Dist(src, dst)
			assert.Equal(t, wantOK, ok)
			assert.InDelta(t, want, got, 1e-9, "%s->%s", src, dst)
			got, ok = jn.Dist(src, dst)
			assert.Equal(t, wantOK, ok)
			assert.InDelta(t, want, got, 1e-9, "%s->%s", src, dst)
		}
	}

	_, ok := fw.Dist("a", "zz")
	assert.False(t, ok)
}

func TestTraversal(t *testing.T) {
	ctx := context.Background()
	g, _ := snapshotOf(t,
		edge{"a", "b", 1}, edge{"a", "c", 1},
		edge{"b", "d", 1}, edge{"c", "d", 1},
		edge{"d", "e", 1},
	)

	t.Run("bfs_depths", func(t *testing.T) {
		depths := map[string]int{}
		var order []string
		require.NoError(t, BFS(ctx, g, "a", Out, func(id string, depth int) bool {
			depths[id] = depth
			order = append(order, id)
			return true
		}))
		assert.Equal(t, map[string]int{"a": 0, "b": 1, "c": 1, "d": 2, "e": 3}, depths)
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, order)
	})

	t.Run("dfs_preorder", func(t *testing.T) {
		var order []string
		require.NoError(t, DFS(ctx, g, "a", Out, func(id string, _ int) bool {
			order = append(order, id)
			return true
		}))
		assert.Equal(t, []string{"a", "b", "d", "e", "c"}, order)
	})

	t.Run("early_stop", func(t *testing.T) {
		var seen int
		require.NoError(t, BFS(ctx, g, "a", Out, func(string, int) bool {
			seen++
			return seen < 2
		}))
		assert.Equal(t, 2, seen)
	})

	t.Run("incoming", func(t *testing.T) {
		got, err := Reachable(ctx, g, "d", In)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"d", "b", "c", "a"}, got)
	})

	t.Run("both", func(t *testing.T) {
		got, err := Reachable(ctx, g, "e", Both)
		require.NoError(t, err)
		assert.Len(t, got, 5)
	})

	t.Run("isolated_start", func(t *testing.T) {
		got, err := Reachable(ctx, g, "zz", Out)
		require.NoError(t, err)
		assert.Equal(t, []string{"zz"}, got)
	})
}

func TestStronglyConnected(t *testing.T) {
	ctx := context.Background()
	edges := []edge{
		{"a", "b", 1}, {"b", "c", 1}, {"c", "a", 1},
		{"c", "d", 1},
		{"d", "e", 1}, {"e", "d", 1},
		{"e", "f", 1},
	}
	want := [][]string{{"a", "b", "c"}, {"d", "e"}, {"f"}}

	snap, _ := snapshotOf(t, edges...)
	hot := hotOf(t, edges...)
	for name, g := range map[string]Graph{"snapshot": snap, "lockfree": hot} {
		t.Run(name, func(t *testing.T) {
			tarjan, err := TarjanSCC(ctx, g)
			require.NoError(t, err)
			assert.Equal(t, want, tarjan)

			kosaraju, err := KosarajuSCC(ctx, g)
			require.NoError(t, err)
			assert.Equal(t, want, kosaraju)
		})
	}
}

func TestSpanningForest(t *testing.T) {
	ctx := context.Background()
	g, w := snapshotOf(t,
		edge{"a", "b", 4}, edge{"a", "c", 1}, edge{"c", "b", 2},
		edge{"b", "d", 5}, edge{"c", "d", 8},
		edge{"x", "y", 3},
	)

	prim, err := Prim(ctx, g, w.cost)
	require.NoError(t, err)
	kruskal, err := Kruskal(ctx, g, w.cost)
	require.NoError(t, err)

	for _, f := range []*SpanningForest{prim, kruskal} {
		assert.Equal(t, 11.0, f.Weight)
		// Six nodes in two components.
		assert.Len(t, f.Edges, 4)
	}
	assert.ElementsMatch(t, prim.Edges, kruskal.Edges)
	assert.Contains(t, kruskal.Edges, Edge{Rel: "link", From: "c", To: "b", Weight: 2})
}

func TestMaxFlow(t *testing.T) {
	ctx := context.Background()
	g, capacity := snapshotOf(t,
		edge{"s", "v1", 16}, edge{"s", "v2", 13},
		edge{"v2", "v1", 4}, edge{"v1", "v3", 12},
		edge{"v3", "v2", 9}, edge{"v2", "v4", 14},
		edge{"v4", "v3", 7}, edge{"v3", "t", 20},
		edge{"v4", "t", 4},
	)

	for name, run := range map[string]func(context.Context, Graph, string, string, CostFunc) (*Flow, error){
		"edmonds_karp": FordFulkerson,
		"dinic":        Dinic,
	} {
		t.Run(name, func(t *testing.T) {
			f, err := run(ctx, g, "s", "t", capacity.cost)
			require.NoError(t, err)
			assert.InDelta(t, 23, f.Value, 1e-9)

			// Conservation at every inner node.
			balance := map[string]float64{}
			for _, e := range f.Edges {
				assert.LessOrEqual(t, e.Weight, capacity[[2]string{e.From, e.To}]+1e-9)
				balance[e.From] -= e.Weight
				balance[e.To] += e.Weight
			}
			for id, b := range balance {
				switch id {
				case "s":
					assert.InDelta(t, -23, b, 1e-9)
				case "t":
					assert.InDelta(t, 23, b, 1e-9)
				default:
					assert.InDelta(t, 0, b, 1e-9, id)
				}
			}
		})
	}

	t.Run("unreachable_sink", func(t *testing.T) {
		f, err := Dinic(ctx, g, "t", "s", capacity.cost)
		require.NoError(t, err)
		assert.Zero(t, f.Value)
		assert.Empty(t, f.Edges)
	})
}

func TestMinCostMaxFlow(t *testing.T) {
	ctx := context.Background()
	g, capacity := snapshotOf(t,
		edge{"s", "a", 2}, edge{"s", "b", 1},
		edge{"a", "t", 1}, edge{"a", "b", 1},
		edge{"b", "t", 2},
	)
	cost := weights{
		{"s", "a"}: 1, {"s", "b"}: 2,
		{"a", "t"}: 1, {"a", "b"}: 1,
		{"b", "t"}: 1,
	}

	f, err := MinCostMaxFlow(ctx, g, "s", "t", capacity.cost, cost.cost)
	require.NoError(t, err)
	assert.InDelta(t, 3, f.Value, 1e-9)
	assert.InDelta(t, 8, f.Cost, 1e-9)
}

func TestBridgesAndArticulation(t *testing.T) {
	ctx := context.Background()

	t.Run("triangle_with_tail", func(t *testing.T) {
		g, _ := snapshotOf(t,
			edge{"a", "b", 1}, edge{"b", "c", 1}, edge{"c", "a", 1},
			edge{"c", "d", 1}, edge{"e", "d", 1},
		)
		bridges, err := Bridges(ctx, g)
		require.NoError(t, err)
		assert.Equal(t, []Edge{
			{Rel: "link", From: "c", To: "d"},
			{Rel: "link", From: "e", To: "d"},
		}, bridges)

		cut, err := ArticulationPoints(ctx, g)
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "d"}, cut)
	})

	t.Run("parallel_edges", func(t *testing.T) {
		g, _ := snapshotOf(t, edge{"x", "y", 1}, edge{"y", "x", 1}, edge{"y", "z", 1})
		bridges, err := Bridges(ctx, g)
		require.NoError(t, err)
		assert.Equal(t, []Edge{{Rel: "link", From: "y", To: "z"}}, bridges)

		cut, err := ArticulationPoints(ctx, g)
		require.NoError(t, err)
		assert.Equal(t, []string{"y"}, cut)
	})

	t.Run("root_with_two_children", func(t *testing.T) {
		g, _ := snapshotOf(t, edge{"m", "l", 1}, edge{"m", "r", 1})
		cut, err := ArticulationPoints(ctx, g)
		require.NoError(t, err)
		assert.Equal(t, []string{"m"}, cut)
	})
}

func TestTransitive(t *testing.T) {
	ctx := context.Background()
	dag, _ := snapshotOf(t,
		edge{"a", "b", 1}, edge{"b", "c", 1}, edge{"a", "c", 1}, edge{"c", "d", 1},
	)

	t.Run("closure", func(t *testing.T) {
		got, err := TransitiveClosure(ctx, dag)
		require.NoError(t, err)
		assert.Equal(t, map[string][]string{
			"a": {"b", "c", "d"},
			"b": {"c", "d"},
			"c": {"d"},
		}, got)
	})

	t.Run("closure_cycle_includes_self", func(t *testing.T) {
		g, _ := snapshotOf(t, edge{"p", "q", 1}, edge{"q", "p", 1})
		got, err := TransitiveClosure(ctx, g)
		require.NoError(t, err)
		assert.Equal(t, []string{"p", "q"}, got["p"])
	})

	t.Run("topological_sort", func(t *testing.T) {
		got, err := TopologicalSort(ctx, dag)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d"}, got)
	})

	t.Run("reduction", func(t *testing.T) {
		got, err := TransitiveReduction(ctx, dag)
		require.NoError(t, err)
		assert.Equal(t, []Edge{
			{Rel: "link", From: "a", To: "b"},
			{Rel: "link", From: "b", To: "c"},
			{Rel: "link", From: "c", To: "d"},
		}, got)
	})

	t.Run("reduction_rejects_cycle", func(t *testing.T) {
		g, _ := snapshotOf(t, edge{"p", "q", 1}, edge{"q", "p", 1})
		_, err := TransitiveReduction(ctx, g)
		assert.ErrorIs(t, err, ErrNotDAG)
		_, err = TopologicalSort(ctx, g)
		assert.ErrorIs(t, err, ErrNotDAG)
	})
}

func TestRanking(t *testing.T) {
	ctx := context.Background()

	t.Run("pagerank_cycle_is_uniform", func(t *testing.T) {
		g, _ := snapshotOf(t, edge{"a", "b", 1}, edge{"b", "c", 1}, edge{"c", "a", 1})
		pr, err := PageRank(ctx, g, PageRankOptions{})
		require.NoError(t, err)
		for _, id := range []string{"a", "b", "c"} {
			assert.InDelta(t, 1.0/3, pr[id], 1e-6)
		}
	})

	t.Run("pagerank_star", func(t *testing.T) {
		g, _ := snapshotOf(t, edge{"b", "a", 1}, edge{"c", "a", 1}, edge{"d", "a", 1})
		pr, err := PageRank(ctx, g, PageRankOptions{Iterations: 100})
		require.NoError(t, err)
		var sum float64
		for id, r := range pr {
			sum += r
			if id != "a" {
				assert.Greater(t, pr["a"], r)
			}
		}
		assert.InDelta(t, 1, sum, 1e-6)
	})

	t.Run("degree", func(t *testing.T) {
		g, _ := snapshotOf(t, diamond...)
		deg, err := DegreeCentrality(ctx, g)
		require.NoError(t, err)
		assert.Equal(t, Degree{In: 0, Out: 2}, deg["a"])
		assert.Equal(t, Degree{In: 2, Out: 1}, deg["c"])
		assert.Equal(t, 1, deg["d"].Total())
	})

	t.Run("betweenness_path", func(t *testing.T) {
		g, _ := snapshotOf(t, edge{"a", "b", 1}, edge{"b", "c", 1})
		bc, err := Betweenness(ctx, g)
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"a": 0, "b": 1, "c": 0}, bc)
	})

	t.Run("closeness_path", func(t *testing.T) {
		g, _ := snapshotOf(t, edge{"a", "b", 1}, edge{"b", "c", 1})
		cl, err := Closeness(ctx, g)
		require.NoError(t, err)
		assert.InDelta(t, 2.0/3, cl["a"], 1e-9)
		assert.InDelta(t, 1, cl["b"], 1e-9)
		assert.Zero(t, cl["c"])
	})
}

func TestLouvain(t *testing.T) {
	ctx := context.Background()
	g, _ := snapshotOf(t,
		edge{"a", "b", 1}, edge{"b", "c", 1}, edge{"c", "a", 1},
		edge{"d", "e", 1}, edge{"e", "f", 1}, edge{"f", "d", 1},
		edge{"c", "d", 1},
	)

	got, err := Louvain(ctx, g, LouvainOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"d", "e", "f"}}, got.Groups)
	assert.Equal(t, got.Membership["a"], got.Membership["c"])
	assert.NotEqual(t, got.Membership["c"], got.Membership["d"])
	assert.InDelta(t, 2*(6.0/14-0.25), got.Modularity, 1e-9)
}

func TestDSATUR(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		edges  []edge
		colors int
	}{
		{"triangle", []edge{{"a", "b", 1}, {"b", "c", 1}, {"c", "a", 1}}, 3},
		{"even_cycle", []edge{{"a", "b", 1}, {"b", "c", 1}, {"c", "d", 1}, {"d", "a", 1}}, 2},
		{"self_loop_ignored", []edge{{"a", "a", 1}, {"a", "b", 1}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := snapshotOf(t, tt.edges...)
			got, err := DSATUR(ctx, g)
			require.NoError(t, err)
			assert.Equal(t, tt.colors, got.NumColors)
			for _, e := range tt.edges {
				if e.from != e.to {
					assert.NotEqual(t, got.Colors[e.from], got.Colors[e.to], "%s-%s", e.from, e.to)
				}
			}
		})
	}
}

func TestMaximalCliques(t *testing.T) {
	ctx := context.Background()
	g, _ := snapshotOf(t,
		edge{"a", "b", 1}, edge{"b", "c", 1}, edge{"c", "a", 1},
		edge{"b", "d", 1}, edge{"d", "c", 1},
		edge{"e", "f", 1},
	)

	got, err := MaximalCliques(ctx, g, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"b", "c", "d"}}, got)

	all, err := MaximalCliques(ctx, g, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"b", "c", "d"}, {"e", "f"}}, all)
}

func TestCancellation(t *testing.T) {
	g, w := snapshotOf(t, diamond...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runs := map[string]func() error{
		"bfs":      func() error { return BFS(ctx, g, "a", Out, func(string, int) bool { return true }) },
		"dfs":      func() error { return DFS(ctx, g, "a", Out, func(string, int) bool { return true }) },
		"dijkstra": func() error { _, err := Dijkstra(ctx, g, "a", "d", w.cost); return err },
		"bellman_ford": func() error {
			_, err := BellmanFord(ctx, g, "a", w.cost)
			return err
		},
		"floyd_warshall": func() error { _, err := FloydWarshall(ctx, g, w.cost); return err },
		"tarjan":         func() error { _, err := TarjanSCC(ctx, g); return err },
		"kruskal":        func() error { _, err := Kruskal(ctx, g, w.cost); return err },
		"dinic":          func() error { _, err := Dinic(ctx, g, "a", "d", w.cost); return err },
		"pagerank":       func() error { _, err := PageRank(ctx, g, PageRankOptions{}); return err },
		"louvain":        func() error { _, err := Louvain(ctx, g, LouvainOptions{}); return err },
		"dsatur":         func() error { _, err := DSATUR(ctx, g); return err },
		"cliques":        func() error { _, err := MaximalCliques(ctx, g, 0); return err },
	}
	for name, run := range runs {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, run(), context.Canceled)
		})
	}
}

func TestCostFuncSeesBorrowedStrings(t *testing.T) {
	g, _ := snapshotOf(t, diamond...)
	var calls int
	cost := func(rel, from, to string) float64 {
		calls++
		return math.Max(1, float64(len(rel)+len(from)+len(to))-6)
	}
	p, err := Dijkstra(context.Background(), g, "a", "d", cost)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Positive(t, calls)
	// The path outlives the guards it was read through.
	assert.Equal(t, "a", p.Nodes[0])
	assert.Equal(t, "d", p.Nodes[len(p.Nodes)-1])
}

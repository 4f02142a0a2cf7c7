package indexing

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocentra/TabAgentServer-sub005/pkg/config"
	"github.com/ocentra/TabAgentServer-sub005/pkg/storage"
	"github.com/ocentra/TabAgentServer-sub005/pkg/vector"
)

func resultIDs(res []vector.Result) []string {
	ids := make([]string, len(res))
	for i, r := range res {
		ids[i] = r.ID
	}
	return ids
}

// seedFiltered indexes four messages across two chats and senders, each
// with an embedding under the node id, plus one embedding with no node.
func seedFiltered(t *testing.T, m *Manager) {
	t.Helper()
	docs := []struct {
		id, chat, sender string
		vec             []float32
	}{
		{"m1", "c1", "user", []float32{1, 0, 0}},
		{"m2", "c1", "bot", []float32{0.9, 0.1, 0}},
		{"m3", "c2", "user", []float32{0.8, 0.2, 0}},
		{"m4", "c2", "bot", []float32{0, 1, 0}},
	}
	for _, d := range docs {
		require.NoError(t, m.IndexNode(Node{
			ID:         d.id,
			Type:       "Message",
			Properties: map[string]any{"chat_id": d.chat, "sender": d.sender},
		}))
		require.NoError(t, m.IndexEmbedding(Embedding{ID: d.id, Vector: d.vec}))
	}
	require.NoError(t, m.IndexEmbedding(Embedding{ID: "e9", Vector: []float32{-1, 0, 0}}))
}

func TestSearchVectorsFilter(t *testing.T) {
	ctx := context.Background()
	q := []float32{1, 0, 0}

	modes(t, func(t *testing.T, m *Manager) {
		seedFiltered(t, m)

		tests := []struct {
			name   string
			k      int
			filter Filter
			want   []string
		}{
			{
				name:   "must",
				k:      10,
				filter: Filter{Must: []Pair{{"chat_id", "c2"}}},
				want:   []string{"m3", "m4"},
			},
			{
				name:   "must_intersects",
				k:      10,
				filter: Filter{Must: []Pair{{"chat_id", "c1"}, {"sender", "bot"}}},
				want:   []string{"m2"},
			},
			{
				name:   "should",
				k:      10,
				filter: Filter{Should: []Pair{{"chat_id", "c2"}, {"sender", "bot"}}},
				want:   []string{"m2", "m3", "m4"},
			},
			{
				name: "must_and_should",
				k:    10,
				filter: Filter{
					Must:   []Pair{{"sender", "user"}},
					Should: []Pair{{"chat_id", "c2"}, {"chat_id", "c3"}},
				},
				want: []string{"m3"},
			},
			{
				name:   "must_not",
				k:      10,
				filter: Filter{MustNot: []Pair{{"chat_id", "c1"}}},
				want:   []string{"m3", "m4", "e9"},
			},
			{
				name:   "must_not_respects_k",
				k:      1,
				filter: Filter{MustNot: []Pair{{"chat_id", "c1"}}},
				want:   []string{"m3"},
			},
			{
				name:   "must_minus_must_not",
				k:      10,
				filter: Filter{Must: []Pair{{"chat_id", "c1"}}, MustNot: []Pair{{"sender", "user"}}},
				want:   []string{"m2"},
			},
			{
				name:   "unknown_value",
				k:      10,
				filter: Filter{Must: []Pair{{"chat_id", "c9"}}},
				want:   []string{},
			},
			{
				name:   "must_cancelled_by_must_not",
				k:      10,
				filter: Filter{Must: []Pair{{"chat_id", "c1"}}, MustNot: []Pair{{"chat_id", "c1"}}},
				want:   []string{},
			},
			{
				name:   "empty_filter",
				k:      2,
				filter: Filter{},
				want:   []string{"m1", "m2"},
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				res, err := m.SearchVectorsFilter(ctx, q, tt.k, tt.filter)
				require.NoError(t, err)
				assert.Equal(t, tt.want, resultIDs(res))
			})
		}

		t.Run("matches_unfiltered_distances", func(t *testing.T) {
			all, err := m.SearchVectors(ctx, q, 10)
			require.NoError(t, err)
			byID := make(map[string]float64, len(all))
			for _, r := range all {
				byID[r.ID] = r.Distance
			}
			res, err := m.SearchVectorsFilter(ctx, q, 10, Filter{Must: []Pair{{"chat_id", "c2"}}})
			require.NoError(t, err)
			for _, r := range res {
				assert.InDelta(t, byID[r.ID], r.Distance, 1e-6, r.ID)
			}
		})

		t.Run("removed_node_leaves_filter", func(t *testing.T) {
			_, err := m.RemoveNode(message("m3", "c2"))
			require.NoError(t, err)
			t.Cleanup(func() {
				require.NoError(t, m.IndexNode(Node{
					ID:         "m3",
					Type:       "Message",
					Properties: map[string]any{"chat_id": "c2", "sender": "user"},
				}))
			})
			res, err := m.SearchVectorsFilter(ctx, q, 10, Filter{Must: []Pair{{"chat_id", "c2"}}})
			require.NoError(t, err)
			assert.Equal(t, []string{"m4"}, resultIDs(res))
		})

		t.Run("dimension_mismatch", func(t *testing.T) {
			_, err := m.SearchVectorsFilter(ctx, []float32{1, 0}, 1, Filter{Must: []Pair{{"chat_id", "c9"}}})
			assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
		})

		t.Run("pair_without_property", func(t *testing.T) {
			_, err := m.SearchVectorsFilter(ctx, q, 1, Filter{Should: []Pair{{"", "c1"}}})
			assert.ErrorIs(t, err, storage.ErrInvalidKey)
		})
	})
}

func TestSearchVectorsFilterWidens(t *testing.T) {
	ctx := context.Background()
	const n = 400

	for _, hot := range []bool{false, true} {
		t.Run(fmt.Sprintf("hot_%v", hot), func(t *testing.T) {
			cfg := testConfig(func(c *config.Config) {
				c.HotMode.Enabled = hot
				c.Vector.Dimensions = 8
				c.Vector.EfSearch = 16
				c.Cache.Enabled = false
			})
			m := newManager(t, cfg, Options{})

			rng := rand.New(rand.NewSource(7))
			kept := make(map[string]bool)
			for i := 0; i < n; i++ {
				id := fmt.Sprintf("n%03d", i)
				chat := "drop"
				if i%20 == 0 {
					chat = "keep"
					kept[id] = true
				}
				require.NoError(t, m.IndexNode(message(id, chat)))
				vec := make([]float32, 8)
				for j := range vec {
					vec[j] = rng.Float32()*2 - 1
				}
				require.NoError(t, m.IndexEmbedding(Embedding{ID: id, Vector: vec}))
			}
			q := []float32{1, 1, 1, 1, 0, 0, 0, 0}

			// MustNot alone leaves the candidate set open, so the graph
			// search has to widen past the 16-wide default beam.
			res, err := m.SearchVectorsFilter(ctx, q, 10, Filter{MustNot: []Pair{{"chat_id", "drop"}}})
			require.NoError(t, err)
			require.Len(t, res, 10)
			for i, r := range res {
				assert.True(t, kept[r.ID], r.ID)
				if i > 0 {
					assert.LessOrEqual(t, res[i-1].Distance, r.Distance)
				}
			}

			exact, err := m.SearchVectorsFilter(ctx, q, 10, Filter{Must: []Pair{{"chat_id", "keep"}}})
			require.NoError(t, err)
			require.Len(t, exact, 10)
			for _, r := range exact {
				assert.True(t, kept[r.ID], r.ID)
			}
			if hot {
				assert.Equal(t, resultIDs(exact), resultIDs(res))
			}
		})
	}
}

func TestSearchVectorsBatch(t *testing.T) {
	ctx := context.Background()
	queries := [][]float32{{1, 0, 0}, {0, 1, 0}}

	modes(t, func(t *testing.T, m *Manager) {
		seedFiltered(t, m)

		t.Run("unfiltered", func(t *testing.T) {
			res, err := m.SearchVectorsBatch(ctx, queries, 1, Filter{})
			require.NoError(t, err)
			require.Len(t, res, 2)
			assert.Equal(t, []string{"m1"}, resultIDs(res[0]))
			assert.Equal(t, []string{"m4"}, resultIDs(res[1]))
		})

		t.Run("filtered", func(t *testing.T) {
			res, err := m.SearchVectorsBatch(ctx, queries, 1, Filter{Must: []Pair{{"chat_id", "c2"}}})
			require.NoError(t, err)
			require.Len(t, res, 2)
			assert.Equal(t, []string{"m3"}, resultIDs(res[0]))
			assert.Equal(t, []string{"m4"}, resultIDs(res[1]))
		})

		t.Run("empty_result", func(t *testing.T) {
			res, err := m.SearchVectorsBatch(ctx, queries, 3, Filter{Must: []Pair{{"chat_id", "c9"}}})
			require.NoError(t, err)
			require.Len(t, res, 2)
			assert.Empty(t, res[0])
			assert.Empty(t, res[1])
		})

		t.Run("no_queries", func(t *testing.T) {
			res, err := m.SearchVectorsBatch(ctx, nil, 3, Filter{})
			require.NoError(t, err)
			assert.Empty(t, res)
		})

		t.Run("bad_query_fails_batch", func(t *testing.T) {
			_, err := m.SearchVectorsBatch(ctx, [][]float32{{1, 0, 0}, {1, 0}}, 1, Filter{})
			assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
			assert.ErrorContains(t, err, "query 1")
		})
	})
}

func TestSearchVectorsFilterClosed(t *testing.T) {
	m := newManager(t, testConfig(), Options{})
	require.NoError(t, m.Close())

	_, err := m.SearchVectorsFilter(context.Background(), []float32{1, 0, 0}, 1, Filter{Must: []Pair{{"chat_id", "c1"}}})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.SearchVectorsBatch(context.Background(), [][]float32{{1, 0, 0}}, 1, Filter{})
	assert.ErrorIs(t, err, ErrClosed)
}

package zerocopy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sink int

func TestIDsGuard(t *testing.T) {
	t.Run("nil_guard_is_empty", func(t *testing.T) {
		var g *IDs
		assert.Equal(t, 0, g.Len())
		it := g.Iter()
		assert.False(t, it.Next())
		assert.NoError(t, it.Err())
		assert.Nil(t, g.ToOwned())
		g.Close()
	})

	t.Run("iterates_in_order", func(t *testing.T) {
		g, err := NewIDs(NewScope(nil), true, EncodeIDs([]string{"n1", "n2"}))
		require.NoError(t, err)
		defer g.Close()

		var got []string
		for it := g.Iter(); it.Next(); {
			got = append(got, it.ID())
		}
		assert.Equal(t, []string{"n1", "n2"}, got)
		assert.True(t, g.Contains("n2"))
		assert.False(t, g.Contains("n3"))
	})

	t.Run("use_after_close_fails_safely", func(t *testing.T) {
		g, err := NewIDs(NewScope(nil), true, EncodeIDs([]string{"n1", "n2"}))
		require.NoError(t, err)

		it := g.Iter()
		require.True(t, it.Next())
		g.Close()

		assert.False(t, it.Next())
		assert.ErrorIs(t, it.Err(), ErrClosed)

		it2 := g.Iter()
		assert.False(t, it2.Next())
		assert.ErrorIs(t, it2.Err(), ErrClosed)
	})

	t.Run("owning_guard_releases_scope_once", func(t *testing.T) {
		released := 0
		scope := NewScope(func() { released++ })
		g, err := NewIDs(scope, true, EncodeIDs([]string{"a"}))
		require.NoError(t, err)
		g.Close()
		g.Close()
		assert.Equal(t, 1, released)
		assert.False(t, scope.Alive())
	})

	t.Run("shared_scope_survives_guard_close", func(t *testing.T) {
		scope := NewScope(nil)
		a, err := NewIDs(scope, false, EncodeIDs([]string{"a"}))
		require.NoError(t, err)
		b, err := NewIDs(scope, false, EncodeIDs([]string{"b"}))
		require.NoError(t, err)

		a.Close()
		assert.True(t, scope.Alive())
		assert.Equal(t, []string{"b"}, b.ToOwned())

		scope.Close()
		it := b.Iter()
		assert.False(t, it.Next())
		assert.ErrorIs(t, it.Err(), ErrClosed)
	})

	t.Run("to_owned_outlives_guard", func(t *testing.T) {
		buf := EncodeIDs([]string{"keep"})
		g, err := NewIDs(NewScope(nil), true, buf)
		require.NoError(t, err)
		owned := g.ToOwned()
		g.Close()
		for i := range buf {
			buf[i] = 0
		}
		assert.Equal(t, []string{"keep"}, owned)
	})
}

func TestPairsGuard(t *testing.T) {
	pairs := []Pair{{"e1", "n2"}, {"e2", "n3"}}

	for _, tc := range []struct {
		name string
		make func() *Pairs
	}{
		{"archived", func() *Pairs {
			g, err := NewPairs(NewScope(nil), true, EncodePairs(pairs))
			require.NoError(t, err)
			return g
		}},
		{"slice", func() *Pairs { return NewPairsFromSlice(NewScope(nil), true, pairs) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g := tc.make()
			assert.Equal(t, 2, g.Len())
			assert.Equal(t, pairs, g.ToOwned())

			var rels, nbrs []string
			for it := g.Rels(); it.Next(); {
				rels = append(rels, it.ID())
			}
			for it := g.Neighbors(); it.Next(); {
				nbrs = append(nbrs, it.ID())
			}
			assert.Equal(t, []string{"e1", "e2"}, rels)
			assert.Equal(t, []string{"n2", "n3"}, nbrs)

			g.Close()
			it := g.Iter()
			assert.False(t, it.Next())
			assert.ErrorIs(t, it.Err(), ErrClosed)
		})
	}
}

func TestGuardIterationDoesNotAllocate(t *testing.T) {
	const n = 10000

	ids := make([]string, n)
	pairs := make([]Pair, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("entity-%05d", i)
		pairs[i] = Pair{Rel: fmt.Sprintf("rel-%05d", i), Nbr: ids[i]}
	}

	idGuard, err := NewIDs(NewScope(nil), true, EncodeIDs(ids))
	require.NoError(t, err)
	defer idGuard.Close()

	pairGuard, err := NewPairs(NewScope(nil), true, EncodePairs(pairs))
	require.NoError(t, err)
	defer pairGuard.Close()

	hotGuard := NewPairsFromSlice(NewScope(nil), true, pairs)
	defer hotGuard.Close()

	t.Run("ids", func(t *testing.T) {
		allocs := testing.AllocsPerRun(20, func() {
			total := 0
			for it := idGuard.Iter(); it.Next(); {
				total += len(it.ID())
			}
			sink = total
		})
		assert.Zero(t, allocs)
	})

	t.Run("archived_pairs", func(t *testing.T) {
		allocs := testing.AllocsPerRun(20, func() {
			total := 0
			for it := pairGuard.Iter(); it.Next(); {
				total += len(it.Rel()) + len(it.Nbr())
			}
			sink = total
		})
		assert.Zero(t, allocs)
	})

	t.Run("neighbor_ids", func(t *testing.T) {
		allocs := testing.AllocsPerRun(20, func() {
			total := 0
			for it := pairGuard.Neighbors(); it.Next(); {
				total += len(it.ID())
			}
			sink = total
		})
		assert.Zero(t, allocs)
	})

	t.Run("hot_pairs", func(t *testing.T) {
		allocs := testing.AllocsPerRun(20, func() {
			total := 0
			for it := hotGuard.Iter(); it.Next(); {
				total += len(it.Nbr())
			}
			sink = total
		})
		assert.Zero(t, allocs)
	})

	t.Run("reads_every_element", func(t *testing.T) {
		count := 0
		for it := idGuard.Iter(); it.Next(); {
			count++
		}
		assert.Equal(t, n, count)
	})
}

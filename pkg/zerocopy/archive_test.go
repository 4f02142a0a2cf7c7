package zerocopy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocentra/TabAgentServer-sub005/pkg/storage"
)

func TestAppendRemoveID(t *testing.T) {
	t.Run("append_to_empty", func(t *testing.T) {
		buf, added, err := AppendID(nil, "n1")
		require.NoError(t, err)
		assert.True(t, added)

		n, err := Count(buf, KindIDs)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("append_keeps_order_and_skips_duplicates", func(t *testing.T) {
		var buf []byte
		for _, id := range []string{"n1", "n2", "n1", "n3"} {
			var err error
			buf, _, err = AppendID(buf, id)
			require.NoError(t, err)
		}
		g, err := NewIDs(NewScope(nil), true, buf)
		require.NoError(t, err)
		defer g.Close()
		assert.Equal(t, []string{"n1", "n2", "n3"}, g.ToOwned())
	})

	t.Run("remove_middle", func(t *testing.T) {
		buf := EncodeIDs([]string{"a", "b", "c"})
		out, removed, err := RemoveID(buf, "b")
		require.NoError(t, err)
		assert.True(t, removed)

		g, err := NewIDs(NewScope(nil), true, out)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, g.ToOwned())
	})

	t.Run("remove_last_member_returns_nil", func(t *testing.T) {
		buf := EncodeIDs([]string{"a"})
		out, removed, err := RemoveID(buf, "a")
		require.NoError(t, err)
		assert.True(t, removed)
		assert.Nil(t, out)
	})

	t.Run("remove_absent_is_noop", func(t *testing.T) {
		buf := EncodeIDs([]string{"a"})
		out, removed, err := RemoveID(buf, "zzz")
		require.NoError(t, err)
		assert.False(t, removed)
		assert.Equal(t, buf, out)

		out, removed, err = RemoveID(nil, "a")
		require.NoError(t, err)
		assert.False(t, removed)
		assert.Nil(t, out)
	})

	t.Run("input_not_mutated", func(t *testing.T) {
		buf := EncodeIDs([]string{"a", "b"})
		orig := append([]byte(nil), buf...)
		_, _, err := AppendID(buf, "c")
		require.NoError(t, err)
		_, _, err = RemoveID(buf, "a")
		require.NoError(t, err)
		assert.Equal(t, orig, buf)
	})
}

func TestAppendRemovePair(t *testing.T) {
	t.Run("parallel_edges_kept", func(t *testing.T) {
		buf, err := AppendPair(nil, Pair{Rel: "e1", Nbr: "n2"})
		require.NoError(t, err)
		buf, err = AppendPair(buf, Pair{Rel: "e2", Nbr: "n2"})
		require.NoError(t, err)

		pairs, err := DecodePairs(buf)
		require.NoError(t, err)
		assert.Equal(t, []Pair{{"e1", "n2"}, {"e2", "n2"}}, pairs)
	})

	t.Run("remove_exact_pair", func(t *testing.T) {
		buf := EncodePairs([]Pair{{"e1", "n2"}, {"e2", "n2"}})
		out, removed, err := RemovePair(buf, Pair{Rel: "e1", Nbr: "n2"})
		require.NoError(t, err)
		assert.True(t, removed)

		pairs, err := DecodePairs(out)
		require.NoError(t, err)
		assert.Equal(t, []Pair{{"e2", "n2"}}, pairs)

		out, removed, err = RemovePair(out, Pair{Rel: "e2", Nbr: "n2"})
		require.NoError(t, err)
		assert.True(t, removed)
		assert.Nil(t, out)
	})

	t.Run("remove_pairs_with_neighbor", func(t *testing.T) {
		buf := EncodePairs([]Pair{{"e1", "n2"}, {"e2", "n3"}, {"e3", "n2"}})
		out, removed, err := RemovePairsWith(buf, "n2")
		require.NoError(t, err)
		assert.Equal(t, []Pair{{"e1", "n2"}, {"e3", "n2"}}, removed)

		pairs, err := DecodePairs(out)
		require.NoError(t, err)
		assert.Equal(t, []Pair{{"e2", "n3"}}, pairs)
	})
}

func TestParseCorruption(t *testing.T) {
	valid := EncodeIDs([]string{"alpha", "beta"})

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"too_short", func(b []byte) []byte { return b[:5] }},
		{"wrong_kind", func(b []byte) []byte { b[0] = KindPairs; return b }},
		{"bad_version", func(b []byte) []byte { b[1] = 9; return b }},
		{"flipped_payload_byte", func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b }},
		{"flipped_checksum", func(b []byte) []byte { b[7] ^= 0x01; return b }},
		{"truncated_payload", func(b []byte) []byte { return seal(b[:len(b)-2], KindIDs, 2) }},
		{"count_too_high", func(b []byte) []byte { return seal(b, KindIDs, 3) }},
		{"trailing_bytes", func(b []byte) []byte { return seal(append(b, 0x00), KindIDs, 2) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.mutate(append([]byte(nil), valid...))
			_, err := NewIDs(NewScope(nil), true, buf)
			assert.ErrorIs(t, err, storage.ErrCorruption)
		})
	}

	t.Run("mutation_helpers_report_corruption", func(t *testing.T) {
		bad := append([]byte(nil), valid...)
		bad[len(bad)-1] ^= 0xff
		_, _, err := AppendID(bad, "x")
		assert.ErrorIs(t, err, storage.ErrCorruption)
		_, _, err = RemoveID(bad, "x")
		assert.ErrorIs(t, err, storage.ErrCorruption)
		_, err = AppendPair(bad, Pair{})
		assert.ErrorIs(t, err, storage.ErrCorruption)
	})
}

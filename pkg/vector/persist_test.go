package vector

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocentra/TabAgentServer-sub005/pkg/storage"
)

func buildIndex(t *testing.T, cfg Config, n int) *Index {
	t.Helper()
	h, err := New(cfg)
	require.NoError(t, err)
	r := rand.New(rand.NewPCG(11, 13))
	for i := 0; i < n; i++ {
		require.NoError(t, h.Add(fmt.Sprintf("v%d", i), randomUnit(r, cfg.Dimensions)))
	}
	return h
}

func TestPersistLoad(t *testing.T) {
	tests := []struct {
		name      string
		codec     Codec
		precision Precision
		delta     float64
	}{
		{"none_float32", CodecNone, Float32, 0},
		{"zstd_float32", CodecZstd, Float32, 0},
		{"lz4_float32", CodecLZ4, Float32, 0},
		{"zstd_float16", CodecZstd, Float16, 1e-3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(16)
			cfg.Codec = tt.codec
			cfg.Precision = tt.precision
			h := buildIndex(t, cfg, 150)
			h.Remove("v3")
			require.NoError(t, h.Add("v4", randomUnit(rand.New(rand.NewPCG(1, 1)), 16)))

			path := filepath.Join(t.TempDir(), "vectors", "index.tbxv")
			require.NoError(t, h.Persist(path))

			loaded, err := Load(path, Config{Codec: tt.codec, Precision: tt.precision})
			require.NoError(t, err)

			before, after := h.Stats(), loaded.Stats()
			assert.Equal(t, before.Live, after.Live)
			assert.Equal(t, before.Slots, after.Slots)
			assert.Equal(t, before.Tombstones, after.Tombstones)
			assert.Equal(t, before.MaxLevel, after.MaxLevel)
			assert.False(t, loaded.Contains("v3"))

			want, _ := h.Get("v10")
			got, ok := loaded.Get("v10")
			require.True(t, ok)
			assert.InDeltaSlice(t, want, got, tt.delta+1e-9)

			res, err := loaded.Search(context.Background(), want, 1)
			require.NoError(t, err)
			require.Len(t, res, 1)
			assert.Equal(t, "v10", res[0].ID)

			// Loaded index keeps accepting writes.
			require.NoError(t, loaded.Add("fresh", want))
			assert.True(t, loaded.Contains("fresh"))
		})
	}
}

func TestPersistEmpty(t *testing.T) {
	h := newTestIndex(t, 3)
	path := filepath.Join(t.TempDir(), "empty.tbxv")
	require.NoError(t, h.Persist(path))

	loaded, err := Load(path, Config{})
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
	assert.Equal(t, 3, loaded.Dimensions())

	res, err := loaded.Search(context.Background(), []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.tbxv"), Config{})
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestLoadDimensionMismatch(t *testing.T) {
	h := buildIndex(t, DefaultConfig(8), 10)
	path := filepath.Join(t.TempDir(), "index.tbxv")
	require.NoError(t, h.Persist(path))

	_, err := Load(path, Config{Dimensions: 16})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestLoadCorrupt(t *testing.T) {
	h := buildIndex(t, DefaultConfig(8), 20)
	path := filepath.Join(t.TempDir(), "index.tbxv")
	require.NoError(t, h.Persist(path))
	good, err := os.ReadFile(path)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"truncated_header", func(b []byte) []byte { return b[:10] }},
		{"bad_magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"bad_version", func(b []byte) []byte { b[4] = 9; return b }},
		{"unknown_codec", func(b []byte) []byte { b[5] = 7; return b }},
		{"flipped_body_byte", func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b }},
		{"truncated_body", func(b []byte) []byte { return b[:len(b)-5] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), good...))
			p := filepath.Join(t.TempDir(), "bad.tbxv")
			require.NoError(t, os.WriteFile(p, data, 0644))

			_, err := Load(p, Config{})
			assert.ErrorIs(t, err, storage.ErrCorruption)
		})
	}
}

// twoSlotSnapshot is a consistent index of two slots: a at level 1 (the
// entry point) and b at level 0, linked to each other on level 0.
func twoSlotSnapshot() *snapshot {
	return &snapshot{
		Dimensions:     2,
		Metric:         string(Euclidean),
		M:              16,
		EfConstruction: 200,
		EfSearch:       50,
		IDs:            []string{"a", "b"},
		Levels:         []uint8{1, 0},
		// a: level 0 -> [b], level 1 -> []; b: level 0 -> [a]
		Links:    []uint32{1, 1, 0, 1, 0},
		Vectors:  []float32{0, 0, 1, 1},
		Entry:    0,
		HasEntry: true,
		MaxLevel: 1,
	}
}

func TestLoadValidatesGraph(t *testing.T) {
	write := func(t *testing.T, snap *snapshot) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "crafted.tbxv")
		_, err := writeSnapshot(path, snap, CodecNone, Float32)
		require.NoError(t, err)
		return path
	}

	t.Run("consistent_snapshot_loads", func(t *testing.T) {
		h, err := Load(write(t, twoSlotSnapshot()), Config{})
		require.NoError(t, err)
		res, err := h.Search(context.Background(), []float32{1, 1}, 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "b", res[0].ID)
	})

	tests := []struct {
		name   string
		mutate func(s *snapshot)
	}{
		{"neighbor_below_layer", func(s *snapshot) {
			// a links to b on level 1, but b only exists on level 0.
			s.Links = []uint32{1, 1, 1, 1, 1, 0}
		}},
		{"max_level_above_entry", func(s *snapshot) { s.MaxLevel = 3 }},
		{"max_level_below_entry", func(s *snapshot) { s.MaxLevel = 0 }},
		{"slots_without_entry", func(s *snapshot) { s.HasEntry = false }},
		{"level_above_cap", func(s *snapshot) {
			s.Levels[1] = maxLevelCap + 1
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := twoSlotSnapshot()
			tt.mutate(snap)
			_, err := Load(write(t, snap), Config{})
			assert.ErrorIs(t, err, storage.ErrCorruption)
		})
	}
}

func TestPersistReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.tbxv")

	h := buildIndex(t, DefaultConfig(4), 5)
	require.NoError(t, h.Persist(path))
	require.NoError(t, h.Add("extra", []float32{1, 2, 3, 4}))
	require.NoError(t, h.Persist(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	loaded, err := Load(path, Config{})
	require.NoError(t, err)
	assert.True(t, loaded.Contains("extra"))
}

package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withConfig(t *testing.T, cfg PoolConfig) {
	t.Helper()
	orig := current()
	Configure(cfg)
	t.Cleanup(func() { Configure(orig) })
}

func TestConfigure(t *testing.T) {
	t.Run("enable_pooling", func(t *testing.T) {
		withConfig(t, PoolConfig{Enabled: true, MaxSize: 500})
		assert.True(t, IsEnabled())
		assert.Equal(t, 500, current().MaxSize)
	})

	t.Run("disable_pooling", func(t *testing.T) {
		withConfig(t, PoolConfig{Enabled: false, MaxSize: 1000})
		assert.False(t, IsEnabled())
	})
}

func TestSlicePool(t *testing.T) {
	withConfig(t, PoolConfig{Enabled: true, MaxSize: 1000})

	t.Run("get_returns_empty_slice", func(t *testing.T) {
		sp := NewSlicePool[int](8)
		s := sp.Get()
		assert.Len(t, s, 0)
		assert.GreaterOrEqual(t, cap(s), 8)
		sp.Put(s)
	})

	t.Run("put_clears_contents", func(t *testing.T) {
		sp := NewSlicePool[*int](4)
		v := 1
		s := append(sp.Get(), &v, &v)
		sp.Put(s)
		assert.Nil(t, s[0], "pooled slice must not retain pointers")

		s2 := sp.Get()
		assert.Len(t, s2, 0)
	})

	t.Run("oversized_slices_not_pooled", func(t *testing.T) {
		withConfig(t, PoolConfig{Enabled: true, MaxSize: 10})
		sp := NewSlicePool[int](4)
		big := make([]int, 5, 100)
		big[0] = 42
		sp.Put(big)
		assert.Equal(t, 42, big[0], "dropped slice is left untouched")
	})

	t.Run("nil_put_is_ignored", func(t *testing.T) {
		sp := NewSlicePool[int](4)
		assert.NotPanics(t, func() { sp.Put(nil) })
	})

	t.Run("disabled_pooling_creates_new_slices", func(t *testing.T) {
		withConfig(t, PoolConfig{Enabled: false})
		sp := NewSlicePool[int](16)
		s := sp.Get()
		assert.Len(t, s, 0)
		assert.Equal(t, 16, cap(s))
		sp.Put(s)
	})
}

func TestStringSlicePool(t *testing.T) {
	s := GetStringSlice()
	assert.Len(t, s, 0)
	s = append(s, "a", "b")
	PutStringSlice(s)
	assert.Len(t, GetStringSlice(), 0)
}

func TestFloat32SlicePool(t *testing.T) {
	t.Run("requested_length", func(t *testing.T) {
		s := GetFloat32Slice(384)
		assert.Len(t, s, 384)
		for i := range s {
			s[i] = 1
		}
		PutFloat32Slice(s)

		again := GetFloat32Slice(10)
		assert.Len(t, again, 10)
		for _, v := range again {
			assert.Zero(t, v)
		}
	})

	t.Run("larger_than_pooled", func(t *testing.T) {
		s := GetFloat32Slice(2000)
		assert.Len(t, s, 2000)
	})
}

func TestConcurrentPoolAccess(t *testing.T) {
	sp := NewSlicePool[string](8)
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				s := sp.Get()
				s = append(s, "x")
				sp.Put(s)
			}
		}()
	}
	wg.Wait()
}

func BenchmarkStringSlicePool(b *testing.B) {
	for i := 0; i < b.N; i++ {
		s := GetStringSlice()
		s = append(s, "a", "b", "c")
		PutStringSlice(s)
	}
}

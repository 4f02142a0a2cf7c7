// Package pool provides slice pooling to reduce allocations on hot paths.
//
// Pooled slices:
//   - adjacency pair arrays replaced in the lock-free maps (returned only
//     after the epoch collector proves no reader can still see them)
//   - string slices used as traversal queues and stacks by the graph
//     algorithms
//   - float32 scratch vectors used while scoring
//
// Usage:
//
//	queue := pool.GetStringSlice()
//	defer pool.PutStringSlice(queue)
//
//	queue = append(queue, start)
package pool

import (
	"sync"
)

// PoolConfig configures pooling behavior.
type PoolConfig struct {
	// Enabled controls whether pooling is active
	Enabled bool

	// MaxSize limits the capacity of slices kept in each pool
	MaxSize int
}

var (
	configMu     sync.RWMutex
	globalConfig = PoolConfig{
		Enabled: true,
		MaxSize: 4096,
	}
)

// Configure sets global pool configuration.
// Should be called early during initialization.
func Configure(config PoolConfig) {
	configMu.Lock()
	globalConfig = config
	configMu.Unlock()
}

// IsEnabled returns whether pooling is enabled.
func IsEnabled() bool {
	return current().Enabled
}

func current() PoolConfig {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// SlicePool pools slices of T with a preallocated capacity.
type SlicePool[T any] struct {
	initCap int
	p       sync.Pool
}

// NewSlicePool creates a pool handing out slices with at least initCap
// capacity.
func NewSlicePool[T any](initCap int) *SlicePool[T] {
	sp := &SlicePool[T]{initCap: initCap}
	sp.p.New = func() any {
		s := make([]T, 0, initCap)
		return &s
	}
	return sp
}

// Get returns an empty slice from the pool.
func (sp *SlicePool[T]) Get() []T {
	if !IsEnabled() {
		return make([]T, 0, sp.initCap)
	}
	return (*sp.p.Get().(*[]T))[:0]
}

// Put returns s to the pool. Elements are zeroed so pooled slices do not
// keep their contents alive. Slices larger than MaxSize are dropped.
func (sp *SlicePool[T]) Put(s []T) {
	cfg := current()
	if !cfg.Enabled || s == nil || cap(s) > cfg.MaxSize {
		return
	}
	clear(s[:cap(s)])
	s = s[:0]
	sp.p.Put(&s)
}

var (
	stringSlicePool  = NewSlicePool[string](16)
	float32SlicePool = NewSlicePool[float32](384)
)

// GetStringSlice returns a string slice from the pool.
func GetStringSlice() []string { return stringSlicePool.Get() }

// PutStringSlice returns a string slice to the pool.
func PutStringSlice(s []string) { stringSlicePool.Put(s) }

// GetFloat32Slice returns a float32 slice of length n, reusing pooled
// capacity when it is large enough. Contents are zero.
func GetFloat32Slice(n int) []float32 {
	s := float32SlicePool.Get()
	if cap(s) < n {
		return make([]float32, n)
	}
	return s[:n]
}

// PutFloat32Slice returns a float32 slice to the pool.
func PutFloat32Slice(s []float32) { float32SlicePool.Put(s) }

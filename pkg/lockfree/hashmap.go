package lockfree

import (
	"math/bits"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// DefaultBuckets is the bucket count used when none is configured.
const DefaultBuckets = 1024

type entry[V any] struct {
	key string
	val V
}

// bucket is immutable once published.
type bucket[V any] struct {
	entries []entry[V]
}

// Map is a fixed-size hash map of copy-on-write buckets.
//
// Each bucket is an atomic pointer to an immutable entry array. Load reads
// the array without locking. Update builds a replacement array and
// publishes it with CompareAndSwap, retrying on conflict, so writers to
// different buckets never contend and writers to the same bucket are
// lock-free.
//
// Values replaced or deleted by Update are passed to the map's release
// function through the Collector, after every reader that could still see
// them has unpinned. Callers reading values that may be recycled must hold
// a Pin for as long as they use the value.
type Map[V any] struct {
	buckets []atomic.Pointer[bucket[V]]
	mask    uint64
	c       *Collector
	release func(V)
	size    atomic.Int64
}

// NewMap creates a map with n buckets (rounded up to a power of two).
// release, if non-nil, receives every value that was replaced or deleted
// once it is safe to reuse.
func NewMap[V any](n int, c *Collector, release func(V)) *Map[V] {
	if n <= 0 {
		n = DefaultBuckets
	}
	if c == nil {
		c = NewCollector()
	}
	n = 1 << bits.Len(uint(n-1))
	return &Map[V]{
		buckets: make([]atomic.Pointer[bucket[V]], n),
		mask:    uint64(n - 1),
		c:       c,
		release: release,
	}
}

func (m *Map[V]) slot(key string) *atomic.Pointer[bucket[V]] {
	return &m.buckets[xxhash.Sum64String(key)&m.mask]
}

// Load returns the value stored for key.
func (m *Map[V]) Load(key string) (V, bool) {
	if b := m.slot(key).Load(); b != nil {
		for i := range b.entries {
			if b.entries[i].key == key {
				return b.entries[i].val, true
			}
		}
	}
	var zero V
	return zero, false
}

// Op tells Update what to do with the value returned by its callback.
type Op int

const (
	// OpNone leaves the map unchanged.
	OpNone Op = iota
	// OpStore installs the returned value.
	OpStore
	// OpDelete removes the key.
	OpDelete
)

// Update atomically replaces the value for key with the result of fn.
//
// fn receives the current value and whether it exists, and returns the new
// value and the operation to apply. fn may run more than once under
// contention and must not have side effects; a stored value that lost the
// CAS is passed to discard (if non-nil) so it can go back to a pool.
// Update returns the value for key after the call and whether it exists.
func (m *Map[V]) Update(key string, fn func(old V, ok bool) (V, Op), discard func(V)) (V, bool) {
	ptr := m.slot(key)
	for {
		cur := ptr.Load()
		idx := -1
		var old V
		if cur != nil {
			for i := range cur.entries {
				if cur.entries[i].key == key {
					idx, old = i, cur.entries[i].val
					break
				}
			}
		}
		val, op := fn(old, idx >= 0)
		if op == OpNone || (op == OpDelete && idx < 0) {
			return old, idx >= 0
		}

		next := rebuild(cur, idx, key, val, op == OpStore)
		if ptr.CompareAndSwap(cur, next) {
			switch {
			case idx < 0:
				m.size.Add(1)
			case op == OpDelete:
				m.size.Add(-1)
			}
			if idx >= 0 && m.release != nil {
				m.c.Retire(func() { m.release(old) })
			}
			if op == OpDelete {
				var zero V
				return zero, false
			}
			return val, true
		}
		if op == OpStore && discard != nil {
			discard(val)
		}
	}
}

// rebuild returns a copy of cur with entry idx replaced, appended or
// removed. It returns nil for an empty bucket.
func rebuild[V any](cur *bucket[V], idx int, key string, val V, keep bool) *bucket[V] {
	var entries []entry[V]
	if cur != nil {
		entries = cur.entries
	}
	switch {
	case keep && idx >= 0:
		out := make([]entry[V], len(entries))
		copy(out, entries)
		out[idx].val = val
		return &bucket[V]{entries: out}
	case keep:
		out := make([]entry[V], len(entries), len(entries)+1)
		copy(out, entries)
		return &bucket[V]{entries: append(out, entry[V]{key: key, val: val})}
	case idx >= 0:
		if len(entries) == 1 {
			return nil
		}
		out := make([]entry[V], 0, len(entries)-1)
		out = append(out, entries[:idx]...)
		return &bucket[V]{entries: append(out, entries[idx+1:]...)}
	default:
		return cur
	}
}

// Store sets key to val.
func (m *Map[V]) Store(key string, val V) {
	m.Update(key, func(V, bool) (V, Op) { return val, OpStore }, nil)
}

// Delete removes key and reports whether it was present.
func (m *Map[V]) Delete(key string) bool {
	existed := false
	m.Update(key, func(old V, ok bool) (V, Op) {
		existed = ok
		return old, OpDelete
	}, nil)
	return existed
}

// Range calls fn for each entry until fn returns false. Each bucket is
// read from a single published array, but buckets are visited one after
// another, so concurrent writes may or may not be observed.
func (m *Map[V]) Range(fn func(key string, val V) bool) {
	for i := range m.buckets {
		b := m.buckets[i].Load()
		if b == nil {
			continue
		}
		for j := range b.entries {
			if !fn(b.entries[j].key, b.entries[j].val) {
				return
			}
		}
	}
}

// Len returns the number of keys.
func (m *Map[V]) Len() int { return int(m.size.Load()) }

package storage

import (
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultKeyLockStripes is used when KeyLocks is created with n <= 0.
const DefaultKeyLockStripes = 256

// KeyLocks serializes read-modify-write cycles on the same key.
//
// Badger transactions are optimistic: two writers that read and then
// rewrite the same record conflict at commit. Taking the stripe for every
// key a writer touches before opening the transaction turns that conflict
// into a short wait, while writers on unrelated keys rarely share a stripe.
type KeyLocks struct {
	stripes []sync.Mutex
	mask    uint64
}

// NewKeyLocks creates a lock table with n stripes rounded up to a power
// of two.
func NewKeyLocks(n int) *KeyLocks {
	if n <= 0 {
		n = DefaultKeyLockStripes
	}
	size := 1
	for size < n {
		size <<= 1
	}
	return &KeyLocks{
		stripes: make([]sync.Mutex, size),
		mask:    uint64(size - 1),
	}
}

func (k *KeyLocks) stripe(key []byte) int {
	return int(xxhash.Sum64(key) & k.mask)
}

// Lock acquires the stripes for every key in ascending stripe order, so
// concurrent multi-key writers cannot deadlock. The returned func unlocks.
func (k *KeyLocks) Lock(keys ...[]byte) func() {
	idx := make([]int, 0, len(keys))
	for _, key := range keys {
		idx = append(idx, k.stripe(key))
	}
	slices.Sort(idx)
	idx = slices.Compact(idx)

	for _, i := range idx {
		k.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			k.stripes[idx[j]].Unlock()
		}
	}
}

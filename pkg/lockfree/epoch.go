// Package lockfree provides the hot-mode graph and vector structures: a
// bucketed copy-on-write hash map updated by compare-and-swap, guarded by
// epoch-based reclamation.
//
// Readers never block. A read pins the current epoch, loads an immutable
// bucket array through an atomic pointer and reads it in place. Writers
// build a new bucket array and swap it in with CAS; the array (and any
// value it replaced) is retired to the Collector and handed to its recycle
// function only after every reader that could still hold it has unpinned.
//
// Ordering: operations are linearizable per key. There is no ordering
// across keys, so a reader may see one side of an edge before the other
// while a write is in flight. A record is never observed half written,
// because records are immutable once published.
//
// Memory: several generations of a bucket can be alive at once while
// readers are pinned, so hot mode uses more memory than the store-backed
// indexes. It is opt-in and not worth it for low-concurrency callers.
//
// Search: Vectors has no graph and answers every query with an exact scan,
// O(N) in the number of live vectors. Hot mode gives up HNSW's sublinear
// search in exchange for writes that never take a lock.
package lockfree

import (
	"sync"
	"sync/atomic"
)

// Collector implements epoch-based reclamation.
//
// Go's collector already prevents use-after-free, so here "reclaim" means
// "recycle": a retired buffer is returned to a pool only once no pinned
// reader can observe it, which keeps recycled buffers from being
// overwritten under a reader.
//
// An object retired at epoch e is recycled when the global epoch reaches
// e+2. The epoch only advances when every pinned participant has observed
// the current epoch, so two advances imply that every pin older than the
// retirement has been released.
type Collector struct {
	epoch atomic.Uint64

	partsMu sync.Mutex
	parts   atomic.Pointer[[]*participant]

	mu      sync.Mutex
	retired []retiredItem

	pending   atomic.Int64
	recycled  atomic.Int64
	advancing atomic.Bool
}

type participant struct {
	active atomic.Bool
	epoch  atomic.Uint64
	_      [48]byte // keep participants on separate cache lines
}

type retiredItem struct {
	epoch   uint64
	recycle func()
}

// NewCollector creates a collector at epoch 0.
func NewCollector() *Collector {
	c := &Collector{}
	empty := make([]*participant, 0)
	c.parts.Store(&empty)
	return c
}

// Pin marks the caller as a reader of the current epoch. The returned Pin
// must be released with Unpin; while it is held no object retired after
// the pin is recycled.
type Pin struct {
	c *Collector
	p *participant
}

// Pin registers a reader.
func (c *Collector) Pin() Pin {
	p := c.acquire()
	for {
		e := c.epoch.Load()
		p.epoch.Store(e)
		if c.epoch.Load() == e {
			break
		}
	}
	return Pin{c: c, p: p}
}

// acquire claims a free participant slot, growing the table if all are
// busy.
func (c *Collector) acquire() *participant {
	for _, p := range *c.parts.Load() {
		if !p.active.Load() && p.active.CompareAndSwap(false, true) {
			return p
		}
	}
	c.partsMu.Lock()
	defer c.partsMu.Unlock()
	p := &participant{}
	p.active.Store(true)
	old := *c.parts.Load()
	grown := make([]*participant, len(old), len(old)+1)
	copy(grown, old)
	grown = append(grown, p)
	c.parts.Store(&grown)
	return p
}

// Unpin releases the pin. A released Pin must not be used again.
func (pin Pin) Unpin() {
	if pin.p == nil {
		return
	}
	pin.p.active.Store(false)
}

// Retire schedules recycle to run once no current reader can observe the
// retired object.
func (c *Collector) Retire(recycle func()) {
	c.mu.Lock()
	c.retired = append(c.retired, retiredItem{epoch: c.epoch.Load(), recycle: recycle})
	c.pending.Add(1)
	c.mu.Unlock()
	c.TryAdvance()
}

// TryAdvance moves the global epoch forward if every pinned participant
// has observed the current one, then recycles what became safe. It
// reports whether the epoch advanced.
func (c *Collector) TryAdvance() bool {
	if !c.advancing.CompareAndSwap(false, true) {
		return false
	}
	defer c.advancing.Store(false)

	e := c.epoch.Load()
	for _, p := range *c.parts.Load() {
		if p.active.Load() && p.epoch.Load() != e {
			return false
		}
	}
	if !c.epoch.CompareAndSwap(e, e+1) {
		return false
	}
	c.collect(e + 1)
	return true
}

func (c *Collector) collect(now uint64) {
	var ready []retiredItem
	c.mu.Lock()
	kept := c.retired[:0]
	for _, r := range c.retired {
		if r.epoch+2 <= now {
			ready = append(ready, r)
		} else {
			kept = append(kept, r)
		}
	}
	clear(c.retired[len(kept):])
	c.retired = kept
	c.mu.Unlock()

	for _, r := range ready {
		r.recycle()
	}
	c.pending.Add(-int64(len(ready)))
	c.recycled.Add(int64(len(ready)))
}

// Flush advances the epoch until nothing is pending or a pinned reader
// blocks progress. It returns the number of objects still pending.
func (c *Collector) Flush() int {
	for i := 0; i < 3 && c.pending.Load() > 0; i++ {
		if !c.TryAdvance() {
			break
		}
	}
	return int(c.pending.Load())
}

// Epoch returns the current global epoch.
func (c *Collector) Epoch() uint64 { return c.epoch.Load() }

// Pending returns the number of retired objects not yet recycled.
func (c *Collector) Pending() int { return int(c.pending.Load()) }

// Recycled returns the number of retired objects recycled so far.
func (c *Collector) Recycled() int64 { return c.recycled.Load() }

package lockfree

import (
	"container/heap"
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	mathvec "github.com/ocentra/TabAgentServer-sub005/pkg/math/vector"
	"github.com/ocentra/TabAgentServer-sub005/pkg/pool"
	"github.com/ocentra/TabAgentServer-sub005/pkg/vector"
)

// vecRecord is immutable once stored, apart from the synced flag. A
// removal stores a tombstone record so the deletion can be folded back
// into the cold index.
type vecRecord struct {
	vec     []float32
	seq     uint64
	deleted bool
	synced  atomic.Bool
}

// VectorOptions configures hot vectors.
type VectorOptions struct {
	Dimensions int
	Metric     vector.Metric
	Buckets    int
	Collector  *Collector
	Logger     *slog.Logger
}

// Vectors is the hot-mode vector store: id → immutable record in a Map,
// searched by exact scan. Records written after Load are marked unsynced
// until SyncTo folds them into the HNSW index.
type Vectors struct {
	m      *Map[*vecRecord]
	dim    int
	metric vector.Metric
	dist   func(a, b []float32) float64
	seq    atomic.Uint64
	live   atomic.Int64
	stats  Stats
	log    *slog.Logger
}

// NewVectors creates an empty hot vector store.
func NewVectors(opts VectorOptions) *Vectors {
	if opts.Metric == "" {
		opts.Metric = vector.Cosine
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Vectors{
		m:      NewMap[*vecRecord](opts.Buckets, opts.Collector, nil),
		dim:    opts.Dimensions,
		metric: opts.Metric,
		dist:   vector.DistanceFunc(opts.Metric),
		log:    opts.Logger.With("component", "lockfree-vectors"),
	}
}

func (v *Vectors) checkDim(vec []float32) error {
	if len(vec) != v.dim {
		return &vector.DimensionMismatchError{Expected: v.dim, Actual: len(vec)}
	}
	return nil
}

// Load copies every live vector of idx. Loaded vectors count as synced.
func (v *Vectors) Load(ctx context.Context, idx *vector.Index) (int, error) {
	var ids []string
	idx.IDs(func(id string) bool {
		ids = append(ids, id)
		return true
	})
	n := 0
	for i, id := range ids {
		if i&255 == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		vec, ok := idx.Get(id)
		if !ok {
			continue
		}
		rec := &vecRecord{vec: vec}
		rec.synced.Store(true)
		v.put(id, rec)
		n++
	}
	v.log.Info("hot vectors loaded", "vectors", n)
	return n, nil
}

// Add inserts or replaces the vector for id.
func (v *Vectors) Add(id string, vec []float32) error {
	if id == "" {
		return vector.ErrEmptyID
	}
	if err := v.checkDim(vec); err != nil {
		return err
	}
	v.put(id, &vecRecord{vec: vector.Prepare(v.metric, vec), seq: v.seq.Add(1)})
	v.stats.write()
	return nil
}

func (v *Vectors) put(id string, rec *vecRecord) {
	wasLive := false
	v.m.Update(id, func(old *vecRecord, ok bool) (*vecRecord, Op) {
		wasLive = ok && !old.deleted
		return rec, OpStore
	}, nil)
	if !wasLive {
		v.live.Add(1)
	}
}

// Remove tombstones id and reports whether it was present.
func (v *Vectors) Remove(id string) bool {
	removed := false
	v.m.Update(id, func(old *vecRecord, ok bool) (*vecRecord, Op) {
		if !ok || old.deleted {
			removed = false
			return old, OpNone
		}
		removed = true
		return &vecRecord{seq: v.seq.Add(1), deleted: true}, OpStore
	}, nil)
	if removed {
		v.live.Add(-1)
		v.stats.write()
	}
	return removed
}

// Get returns a copy of the vector for id.
func (v *Vectors) Get(id string) ([]float32, bool) {
	start := time.Now()
	rec, ok := v.m.Load(id)
	ok = ok && !rec.deleted
	v.stats.query(start, ok)
	if !ok {
		return nil, false
	}
	return append([]float32(nil), rec.vec...), true
}

// Contains reports whether id has a live vector.
func (v *Vectors) Contains(id string) bool {
	rec, ok := v.m.Load(id)
	return ok && !rec.deleted
}

// Len returns the number of live vectors.
func (v *Vectors) Len() int { return int(v.live.Load()) }

// Seq returns the number of changes accepted so far.
func (v *Vectors) Seq() uint64 { return v.seq.Load() }

// Unsynced returns the number of changes not yet folded into the cold
// index.
func (v *Vectors) Unsynced() int {
	n := 0
	v.m.Range(func(_ string, rec *vecRecord) bool {
		if !rec.synced.Load() {
			n++
		}
		return true
	})
	return n
}

// Search returns the k nearest live vectors by exact scan, ascending by
// distance. ctx is checked every 256 vectors.
func (v *Vectors) Search(ctx context.Context, query []float32, k int) ([]vector.Result, error) {
	return v.SearchFunc(ctx, query, k, nil)
}

// SearchFunc is Search restricted to ids for which keep returns true. A
// nil keep accepts every id.
func (v *Vectors) SearchFunc(ctx context.Context, query []float32, k int, keep func(id string) bool) ([]vector.Result, error) {
	if err := v.checkDim(query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []vector.Result{}, nil
	}
	start := time.Now()

	q := pool.GetFloat32Slice(len(query))
	defer pool.PutFloat32Slice(q)
	copy(q, query)
	if v.metric == vector.Cosine {
		mathvec.NormalizeInPlace(q)
	}

	top := &resultHeap{}
	var err error
	scanned := 0
	v.m.Range(func(id string, rec *vecRecord) bool {
		scanned++
		if scanned&255 == 0 {
			if err = ctx.Err(); err != nil {
				return false
			}
		}
		if rec.deleted || (keep != nil && !keep(id)) {
			return true
		}
		d := v.dist(q, rec.vec)
		if top.Len() < k {
			heap.Push(top, vector.Result{ID: id, Distance: d})
		} else if d < (*top)[0].Distance {
			(*top)[0] = vector.Result{ID: id, Distance: d}
			heap.Fix(top, 0)
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	out := []vector.Result(*top)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	v.stats.query(start, len(out) > 0)
	return out, nil
}

// SyncTo applies every unsynced change to idx in the order the changes
// were accepted and returns how many were applied. Applied tombstones are
// dropped from the hot map. A change that races with SyncTo is picked up
// by the next call.
func (v *Vectors) SyncTo(idx *vector.Index) (int, error) {
	type change struct {
		id  string
		rec *vecRecord
	}
	var changes []change
	v.m.Range(func(id string, rec *vecRecord) bool {
		if !rec.synced.Load() {
			changes = append(changes, change{id, rec})
		}
		return true
	})
	sort.Slice(changes, func(i, j int) bool { return changes[i].rec.seq < changes[j].rec.seq })

	for i, c := range changes {
		if c.rec.deleted {
			idx.Remove(c.id)
		} else if err := idx.Add(c.id, c.rec.vec); err != nil {
			return i, err
		}
		c.rec.synced.Store(true)
		if c.rec.deleted {
			v.m.Update(c.id, func(old *vecRecord, ok bool) (*vecRecord, Op) {
				if ok && old == c.rec {
					return nil, OpDelete
				}
				return old, OpNone
			}, nil)
		}
	}
	if len(changes) > 0 {
		v.log.Debug("hot vectors synced", "changes", len(changes))
	}
	return len(changes), nil
}

// Stats returns the read and write counters.
func (v *Vectors) Stats() StatsSnapshot { return v.stats.Snapshot() }

// resultHeap is a max-heap on distance holding the current top k.
type resultHeap []vector.Result

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return h[i].Distance > h[j].Distance }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x any)        { *h = append(*h, x.(vector.Result)) }
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

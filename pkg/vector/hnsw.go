// Package vector provides the HNSW vector index for approximate nearest
// neighbor search over fixed-dimension float32 embeddings.
//
// Layout: the index keeps parallel per-slot arrays (id, level, vector,
// links) instead of a per-node struct, which keeps the hot search loop
// cache friendly. A slot is never reused:
//
//   - Add of a new id appends a slot.
//   - Add of an existing id tombstones the old slot and appends a new one,
//     so a vector slice is immutable once published and guards can borrow
//     it without locks.
//   - Remove tombstones the slot. Tombstoned slots keep routing searches
//     but never appear in results.
//   - Compact rebuilds the graph from live slots only and starts a new
//     generation.
//
// Tombstones are tracked in a roaring bitmap; the id → slot map is an
// ordered B-tree so snapshots and listings are deterministic.
package vector

import (
	"container/heap"
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/tidwall/btree"

	mathvec "github.com/ocentra/TabAgentServer-sub005/pkg/math/vector"
)

// maxLevelCap bounds the random level so a pathological draw cannot create
// a deep, nearly empty hierarchy.
const maxLevelCap = 16

// Result is one search hit. Distance is ascending-is-better for every
// metric.
type Result struct {
	ID       string
	Distance float64
}

// Index provides approximate nearest neighbor search using the HNSW
// algorithm.
type Index struct {
	cfg       Config
	dist      func(a, b []float32) float64
	levelMult float64
	log       *slog.Logger

	mu  sync.RWMutex
	rng *rand.Rand

	// Per-slot metadata, indexed by slot number.
	ids     []string
	levels  []uint8
	vectors [][]float32
	links   [][][]uint32

	tombstones *roaring.Bitmap
	slots      *btree.Map[string, uint32] // live ids only

	entry    uint32
	hasEntry bool
	maxLevel int
	gen      uint64

	visitedPool sync.Pool
}

type visitedSet struct {
	gen []uint16
	cur uint16
}

func (v *visitedSet) reset(n int) {
	if len(v.gen) < n {
		grown := make([]uint16, n+n/2+16)
		copy(grown, v.gen)
		v.gen = grown
	}
	v.cur++
	if v.cur == 0 {
		clear(v.gen)
		v.cur = 1
	}
}

// visit marks slot i and reports whether it was unvisited.
func (v *visitedSet) visit(i uint32) bool {
	if v.gen[i] == v.cur {
		return false
	}
	v.gen[i] = v.cur
	return true
}

// New creates an empty index.
func New(cfg Config) (*Index, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Index{
		cfg:        cfg,
		dist:       DistanceFunc(cfg.Metric),
		levelMult:  cfg.levelMultiplier(),
		log:        cfg.Logger.With("component", "vector"),
		tombstones: roaring.New(),
		slots:      btree.NewMap[string, uint32](0),
	}
	h.rng = newRNG(cfg.Seed, 0)
	h.visitedPool.New = func() any { return &visitedSet{} }
	return h, nil
}

func newRNG(seed int64, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), stream^0x9e3779b97f4a7c15))
}

func (h *Index) checkDim(v []float32) error {
	if len(v) != h.cfg.Dimensions {
		return &DimensionMismatchError{Expected: h.cfg.Dimensions, Actual: len(v)}
	}
	return nil
}

func (h *Index) prepare(vec []float32) []float32 {
	return Prepare(h.cfg.Metric, vec)
}

// ValidateVector checks vec against the index dimension without inserting.
func (h *Index) ValidateVector(vec []float32) error {
	return h.checkDim(vec)
}

// Add inserts or replaces the vector for id.
func (h *Index) Add(id string, vec []float32) error {
	if id == "" {
		return ErrEmptyID
	}
	if err := h.checkDim(vec); err != nil {
		return err
	}
	stored := h.prepare(vec)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.insert(id, stored)
	return nil
}

func (h *Index) insert(id string, vec []float32) {
	if old, ok := h.slots.Get(id); ok {
		h.tombstones.Add(old)
	}

	slot := uint32(len(h.ids))
	level := h.randomLevel()
	h.ids = append(h.ids, id)
	h.levels = append(h.levels, uint8(level))
	h.vectors = append(h.vectors, vec)
	h.links = append(h.links, make([][]uint32, level+1))
	h.slots.Set(id, slot)

	if !h.hasEntry {
		h.entry = slot
		h.hasEntry = true
		h.maxLevel = level
		return
	}

	vis := h.visitedPool.Get().(*visitedSet)
	defer h.visitedPool.Put(vis)

	ep := h.entry
	for l := h.maxLevel; l > level; l-- {
		ep = h.greedy(vec, ep, l)
	}

	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates, _ := h.searchLayer(context.Background(), vec, ep, h.cfg.EfConstruction, l, vis)
		neighbors := h.selectNeighbors(candidates, h.cfg.M)
		h.links[slot][l] = neighbors

		for _, nb := range neighbors {
			h.connect(nb, slot, l)
		}

		if len(candidates) > 0 {
			ep = candidates[0].slot
		}
	}

	if level > h.maxLevel {
		h.entry = slot
		h.maxLevel = level
	}
}

func (h *Index) maxLinks(level int) int {
	if level == 0 {
		return 2 * h.cfg.M
	}
	return h.cfg.M
}

// connect adds a back link from nb to slot, pruning nb's list to the
// closest maxLinks entries when it overflows.
func (h *Index) connect(nb, slot uint32, level int) {
	links := append(h.links[nb][level], slot)
	limit := h.maxLinks(level)
	if len(links) > limit {
		base := h.vectors[nb]
		cands := make([]candidate, len(links))
		for i, s := range links {
			cands[i] = candidate{slot: s, dist: h.dist(base, h.vectors[s])}
		}
		sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
		links = links[:0]
		for _, c := range cands[:limit] {
			links = append(links, c.slot)
		}
	}
	h.links[nb][level] = links
}

// selectNeighbors picks up to m closest candidates, preferring live slots.
// candidates must be sorted by distance.
func (h *Index) selectNeighbors(candidates []candidate, m int) []uint32 {
	out := make([]uint32, 0, m)
	for _, c := range candidates {
		if len(out) == m {
			break
		}
		if !h.tombstones.Contains(c.slot) {
			out = append(out, c.slot)
		}
	}
	if len(out) == 0 {
		for _, c := range candidates {
			if len(out) == m {
				break
			}
			out = append(out, c.slot)
		}
	}
	return out
}

func (h *Index) randomLevel() int {
	r := h.rng.Float64()
	level := int(-math.Log(1-r) * h.levelMult)
	if level > maxLevelCap {
		level = maxLevelCap
	}
	return level
}

func (h *Index) greedy(query []float32, entry uint32, level int) uint32 {
	current := entry
	currentDist := h.dist(query, h.vectors[current])

	for {
		changed := false
		for _, nb := range h.links[current][level] {
			d := h.dist(query, h.vectors[nb])
			if d < currentDist {
				current = nb
				currentDist = d
				changed = true
			}
		}
		if !changed {
			return current
		}
	}
}

// searchLayer runs a best-first search on one layer and returns up to ef
// candidates sorted by ascending distance. ctx is polled every 64 expansions.
func (h *Index) searchLayer(ctx context.Context, query []float32, entry uint32, ef, level int, vis *visitedSet) ([]candidate, error) {
	vis.reset(len(h.ids))
	vis.visit(entry)

	candidates := &minHeap{}
	results := &maxHeap{}

	d := h.dist(query, h.vectors[entry])
	heap.Push(candidates, candidate{slot: entry, dist: d})
	heap.Push(results, candidate{slot: entry, dist: d})

	steps := 0
	for candidates.Len() > 0 {
		steps++
		if steps&63 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		closest := heap.Pop(candidates).(candidate)
		if results.Len() >= ef && closest.dist > (*results)[0].dist {
			break
		}

		for _, nb := range h.links[closest.slot][level] {
			if !vis.visit(nb) {
				continue
			}
			d := h.dist(query, h.vectors[nb])
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(candidates, candidate{slot: nb, dist: d})
				heap.Push(results, candidate{slot: nb, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out, nil
}

// Search finds the k nearest live vectors to query, ordered by ascending
// distance. It returns fewer than k results only when fewer than k live
// vectors exist or the graph cannot reach them.
func (h *Index) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	return h.SearchWithEf(ctx, query, k, 0)
}

// SearchWithEf is Search with an explicit search breadth. ef <= 0 uses the
// configured EfSearch. ef is raised to k if smaller.
func (h *Index) SearchWithEf(ctx context.Context, query []float32, k, ef int) ([]Result, error) {
	if err := h.checkDim(query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Result{}, nil
	}
	q := query
	if h.cfg.Metric == Cosine {
		q = mathvec.Normalize(query)
	}
	if ef <= 0 {
		ef = h.cfg.EfSearch
	}
	ef = max(ef, k)

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.hasEntry || h.slots.Len() == 0 {
		return []Result{}, nil
	}

	vis := h.visitedPool.Get().(*visitedSet)
	defer h.visitedPool.Put(vis)

	ep := h.entry
	for l := h.maxLevel; l > 0; l-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ep = h.greedy(q, ep, l)
	}

	for {
		candidates, err := h.searchLayer(ctx, q, ep, ef, 0, vis)
		if err != nil {
			return nil, err
		}

		results := make([]Result, 0, k)
		for _, c := range candidates {
			if h.tombstones.Contains(c.slot) {
				continue
			}
			results = append(results, Result{ID: h.ids[c.slot], Distance: c.dist})
			if len(results) == k {
				break
			}
		}
		// Tombstones can crowd live vectors out of the beam; widen and retry.
		if len(results) >= k || len(results) >= h.slots.Len() || ef >= len(h.ids) || h.tombstones.IsEmpty() {
			return results, nil
		}
		ef *= 2
	}
}

// Remove tombstones the vector for id. It reports whether id was present.
func (h *Index) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	slot, ok := h.slots.Delete(id)
	if !ok {
		return false
	}
	h.tombstones.Add(slot)
	return true
}

// Compact rebuilds the graph from live vectors only, dropping tombstoned
// slots, and starts a new generation. It returns the number of slots
// reclaimed. Writers and searches wait for the rebuild.
func (h *Index) Compact() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.tombstones.IsEmpty() {
		return 0
	}
	before := len(h.ids)

	ids, vectors := h.ids, h.vectors
	dead := h.tombstones
	h.reset(h.gen + 1)
	for s := range ids {
		if dead.Contains(uint32(s)) {
			continue
		}
		h.insert(ids[s], vectors[s])
	}

	reclaimed := before - len(h.ids)
	h.log.Info("vector index compacted", "reclaimed", reclaimed, "live", len(h.ids), "generation", h.gen)
	return reclaimed
}

// reset empties the graph. Caller holds the write lock.
func (h *Index) reset(gen uint64) {
	h.ids = nil
	h.levels = nil
	h.vectors = nil
	h.links = nil
	h.tombstones = roaring.New()
	h.slots = btree.NewMap[string, uint32](0)
	h.entry = 0
	h.hasEntry = false
	h.maxLevel = 0
	h.gen = gen
	h.rng = newRNG(h.cfg.Seed, gen)
}

// Get returns a copy of the vector stored for id.
func (h *Index) Get(id string) ([]float32, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	slot, ok := h.slots.Get(id)
	if !ok {
		return nil, false
	}
	return append([]float32(nil), h.vectors[slot]...), true
}

// Contains reports whether id has a live vector.
func (h *Index) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.slots.Get(id)
	return ok
}

// IDs calls fn for every live id in ascending order until fn returns
// false. fn runs under the read lock and must not modify the index.
func (h *Index) IDs(fn func(id string) bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.slots.Scan(func(id string, _ uint32) bool {
		return fn(id)
	})
}

// Len returns the number of live vectors.
func (h *Index) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.slots.Len()
}

// TombstoneRatio returns the fraction of slots that are tombstoned.
func (h *Index) TombstoneRatio() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.ids) == 0 {
		return 0
	}
	return float64(h.tombstones.GetCardinality()) / float64(len(h.ids))
}

// Dimensions returns the fixed vector length.
func (h *Index) Dimensions() int { return h.cfg.Dimensions }

// Config returns the index configuration.
func (h *Index) Config() Config { return h.cfg }

// Stats describes the index shape.
type Stats struct {
	Live       int
	Slots      int
	Tombstones int
	MaxLevel   int
	Generation uint64
	Dimensions int
	Metric     Metric
	Kernel     string
}

// Stats returns a point-in-time description of the index.
func (h *Index) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Live:       h.slots.Len(),
		Slots:      len(h.ids),
		Tombstones: int(h.tombstones.GetCardinality()),
		MaxLevel:   h.maxLevel,
		Generation: h.gen,
		Dimensions: h.cfg.Dimensions,
		Metric:     h.cfg.Metric,
		Kernel:     mathvec.Kernel(),
	}
}

// Heap types for HNSW search
type candidate struct {
	slot uint32
	dist float64
}

type minHeap []candidate

func (q minHeap) Len() int           { return len(q) }
func (q minHeap) Less(i, j int) bool { return q[i].dist < q[j].dist }
func (q minHeap) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *minHeap) Push(x any)        { *q = append(*q, x.(candidate)) }
func (q *minHeap) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

type maxHeap []candidate

func (q maxHeap) Len() int           { return len(q) }
func (q maxHeap) Less(i, j int) bool { return q[i].dist > q[j].dist }
func (q maxHeap) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *maxHeap) Push(x any)        { *q = append(*q, x.(candidate)) }
func (q *maxHeap) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

package indexing

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ocentra/TabAgentServer-sub005/pkg/storage"
	"github.com/ocentra/TabAgentServer-sub005/pkg/vector"
)

// exactScoreLimit is the candidate count up to which a filtered search
// scores every candidate directly instead of walking the HNSW graph.
const exactScoreLimit = 256

// Filter restricts a vector search to embeddings whose node carries
// matching structural entries. Embeddings and nodes share ids.
//
// Every Must pair has to match, at least one Should pair has to match
// when Should is set, and no MustNot pair may match. Without Must or
// Should, embeddings whose node has no entries at all are admitted too.
// The zero Filter matches everything.
type Filter struct {
	Must    []Pair
	Should  []Pair
	MustNot []Pair
}

// IsEmpty reports whether f has no conditions.
func (f Filter) IsEmpty() bool {
	return len(f.Must) == 0 && len(f.Should) == 0 && len(f.MustNot) == 0
}

// candidates is a resolved Filter over interned node ids.
type candidates struct {
	ordinals map[string]uint32
	names    []string
	// include is nil when every id outside exclude is allowed.
	include *roaring.Bitmap
	exclude *roaring.Bitmap
}

func (c *candidates) allows(id string) bool {
	o, known := c.ordinals[id]
	if c.include != nil {
		return known && c.include.Contains(o)
	}
	return !known || !c.exclude.Contains(o)
}

// none reports whether no id can match.
func (c *candidates) none() bool {
	return c.include != nil && c.include.IsEmpty()
}

// resolveFilter turns f into candidate sets through the structural index.
// Caller holds the lifecycle lock.
func (m *Manager) resolveFilter(f Filter) (*candidates, error) {
	c := &candidates{
		ordinals: make(map[string]uint32),
		exclude:  roaring.New(),
	}
	for _, p := range f.Must {
		set, err := m.pairSet(c, p)
		if err != nil {
			return nil, err
		}
		if c.include == nil {
			c.include = set
		} else {
			c.include.And(set)
		}
		if c.include.IsEmpty() {
			return c, nil
		}
	}
	if len(f.Should) > 0 {
		anyOf := roaring.New()
		for _, p := range f.Should {
			set, err := m.pairSet(c, p)
			if err != nil {
				return nil, err
			}
			anyOf.Or(set)
		}
		if c.include == nil {
			c.include = anyOf
		} else {
			c.include.And(anyOf)
		}
	}
	for _, p := range f.MustNot {
		set, err := m.pairSet(c, p)
		if err != nil {
			return nil, err
		}
		c.exclude.Or(set)
	}
	if c.include != nil {
		c.include.AndNot(c.exclude)
	}
	return c, nil
}

// pairSet returns the ordinals of the ids indexed under p, interning ids
// not seen before.
func (m *Manager) pairSet(c *candidates, p Pair) (*roaring.Bitmap, error) {
	if p.Property == "" {
		return nil, fmt.Errorf("%w: filter pair without property", storage.ErrInvalidKey)
	}
	ids, err := m.structural.Query(p.Property, p.Value)
	if err != nil {
		return nil, err
	}
	defer ids.Close()

	set := roaring.New()
	it := ids.Iter()
	for it.Next() {
		id := it.ID()
		o, ok := c.ordinals[id]
		if !ok {
			// The guard's bytes go away on Close.
			id = strings.Clone(id)
			o = uint32(len(c.names))
			c.ordinals[id] = o
			c.names = append(c.names, id)
		}
		set.Add(o)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

// SearchVectorsFilter is SearchVectors restricted to embeddings whose node
// matches f. Candidates are resolved through the structural index. A
// selective filter is scored exactly; otherwise the HNSW search breadth is
// widened until k matches survive or the index is exhausted. In hot mode
// the exact scan skips non-matching ids. Filtered results are not cached.
func (m *Manager) SearchVectorsFilter(ctx context.Context, query []float32, k int, f Filter) (results []vector.Result, err error) {
	defer func() { m.metrics.Op("search_vectors_filter", err) }()
	hot, release, err := m.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	if f.IsEmpty() {
		return m.search(ctx, hot, query, k)
	}
	c, err := m.resolveFilter(f)
	if err != nil {
		return nil, err
	}
	return m.searchFiltered(ctx, hot, query, k, c)
}

func (m *Manager) searchFiltered(ctx context.Context, hot bool, query []float32, k int, c *candidates) ([]vector.Result, error) {
	start := time.Now()
	defer func() { m.metrics.Search(searchMode(hot)+"_filtered", false, time.Since(start)) }()

	if err := m.vectors.ValidateVector(query); err != nil {
		return nil, err
	}
	if k <= 0 || c.none() {
		return []vector.Result{}, nil
	}
	if hot {
		return m.hotVectors.SearchFunc(ctx, query, k, c.allows)
	}
	if c.include != nil && c.include.GetCardinality() <= exactScoreLimit {
		return m.scoreCandidates(query, k, c), nil
	}

	live := m.vectors.Len()
	ef := max(m.cfg.Vector.EfSearch, 2*k)
	for {
		n := min(ef, live)
		res, err := m.vectors.SearchWithEf(ctx, query, n, ef)
		if err != nil {
			return nil, err
		}
		out := make([]vector.Result, 0, k)
		for _, r := range res {
			if c.allows(r.ID) {
				out = append(out, r)
				if len(out) == k {
					break
				}
			}
		}
		if len(out) == k || n >= live {
			return out, nil
		}
		ef *= 2
	}
}

// scoreCandidates computes the distance to every included candidate that
// has a vector and returns the k closest.
func (m *Manager) scoreCandidates(query []float32, k int, c *candidates) []vector.Result {
	metric := m.vectors.Config().Metric
	dist := vector.DistanceFunc(metric)
	q := vector.Prepare(metric, query)

	out := make([]vector.Result, 0, c.include.GetCardinality())
	it := c.include.Iterator()
	for it.HasNext() {
		id := c.names[it.Next()]
		vec, ok := m.vectors.Get(id)
		if !ok {
			continue
		}
		out = append(out, vector.Result{ID: id, Distance: dist(q, vec)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// SearchVectorsBatch runs one search per query concurrently and returns
// the results in query order. f applies to every query and is resolved
// once; the zero Filter searches unrestricted. The first failing query
// cancels the rest.
func (m *Manager) SearchVectorsBatch(ctx context.Context, queries [][]float32, k int, f Filter) (results [][]vector.Result, err error) {
	defer func() { m.metrics.Op("search_vectors_batch", err) }()
	hot, release, err := m.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	var c *candidates
	if !f.IsEmpty() {
		if c, err = m.resolveFilter(f); err != nil {
			return nil, err
		}
	}

	results = make([][]vector.Result, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, q := range queries {
		g.Go(func() error {
			var (
				res []vector.Result
				err error
			)
			if c == nil {
				res, err = m.search(gctx, hot, q, k)
			} else {
				res, err = m.searchFiltered(gctx, hot, q, k, c)
			}
			if err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

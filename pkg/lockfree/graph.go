package lockfree

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ocentra/TabAgentServer-sub005/pkg/graph"
	"github.com/ocentra/TabAgentServer-sub005/pkg/pool"
	"github.com/ocentra/TabAgentServer-sub005/pkg/storage"
	"github.com/ocentra/TabAgentServer-sub005/pkg/zerocopy"
)

// Backing is the durable graph a hot Graph writes through to.
type Backing interface {
	AddEdge(rel, from, to string) error
	RemoveEdge(rel, from, to string) error
	RemoveEntity(entity string) ([]graph.Edge, error)
}

// Source is a readable graph used to seed a hot Graph.
type Source interface {
	Nodes(fn func(id string) error) error
	Outgoing(entity string) (*zerocopy.Pairs, error)
	Incoming(entity string) (*zerocopy.Pairs, error)
}

// GraphOptions configures a hot Graph.
type GraphOptions struct {
	// Buckets per direction map. Default DefaultBuckets.
	Buckets int

	// Backing receives every mutation before it is made visible in memory.
	// Nil keeps the graph memory only.
	Backing Backing

	// Collector shared with other hot structures. Optional.
	Collector *Collector

	Logger *slog.Logger
}

// Graph is the hot-mode adjacency index.
//
// Reads pin an epoch and return guards over immutable pair arrays; they
// never take a lock. Writes go to the backing store first and then swap
// new arrays into the out and in maps. Writers touching the same pair of
// adjacency keys are ordered by a striped lock so the two sides are always
// changed in the same order; writers of unrelated keys proceed in
// parallel.
type Graph struct {
	out     *Map[[]zerocopy.Pair]
	in      *Map[[]zerocopy.Pair]
	c       *Collector
	backing Backing
	locks   *storage.KeyLocks
	pairs   *pool.SlicePool[zerocopy.Pair]
	stats   Stats
	log     *slog.Logger
}

// NewGraph creates an empty hot graph.
func NewGraph(opts GraphOptions) *Graph {
	if opts.Collector == nil {
		opts.Collector = NewCollector()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	g := &Graph{
		c:       opts.Collector,
		backing: opts.Backing,
		locks:   storage.NewKeyLocks(0),
		pairs:   pool.NewSlicePool[zerocopy.Pair](8),
		log:     opts.Logger.With("component", "lockfree-graph"),
	}
	g.out = NewMap(opts.Buckets, g.c, g.pairs.Put)
	g.in = NewMap(opts.Buckets, g.c, g.pairs.Put)
	return g
}

// Load copies every adjacency list of src into the graph without writing
// through. It returns the number of entities loaded.
func (g *Graph) Load(ctx context.Context, src Source) (int, error) {
	n := 0
	err := src.Nodes(func(id string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.loadSide(g.out, id, src.Outgoing); err != nil {
			return err
		}
		if err := g.loadSide(g.in, id, src.Incoming); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("load hot graph: %w", err)
	}
	g.log.Info("hot graph loaded", "entities", n)
	return n, nil
}

func (g *Graph) loadSide(m *Map[[]zerocopy.Pair], id string, open func(string) (*zerocopy.Pairs, error)) error {
	pairs, err := open(id)
	if err != nil {
		return err
	}
	defer pairs.Close()
	if pairs.Len() > 0 {
		m.Store(id, pairs.ToOwned())
	}
	return nil
}

func validEdge(rel, from, to string) error {
	if rel == "" || from == "" || to == "" {
		return fmt.Errorf("%w: edge %q %q->%q", storage.ErrInvalidID, rel, from, to)
	}
	return nil
}

// AddEdge records rel from → to. Adding an existing edge is a no-op.
func (g *Graph) AddEdge(rel, from, to string) error {
	if err := validEdge(rel, from, to); err != nil {
		return err
	}
	unlock := g.locks.Lock(storage.OutgoingKey(from), storage.IncomingKey(to))
	defer unlock()

	if g.backing != nil {
		if err := g.backing.AddEdge(rel, from, to); err != nil {
			return err
		}
	}
	g.addHot(g.out, from, zerocopy.Pair{Rel: rel, Nbr: to})
	g.addHot(g.in, to, zerocopy.Pair{Rel: rel, Nbr: from})
	g.stats.write()
	return nil
}

// RemoveEdge removes rel from → to. Removing a missing edge is a no-op.
func (g *Graph) RemoveEdge(rel, from, to string) error {
	if err := validEdge(rel, from, to); err != nil {
		return err
	}
	unlock := g.locks.Lock(storage.OutgoingKey(from), storage.IncomingKey(to))
	defer unlock()

	if g.backing != nil {
		if err := g.backing.RemoveEdge(rel, from, to); err != nil {
			return err
		}
	}
	g.removeHot(g.out, from, zerocopy.Pair{Rel: rel, Nbr: to})
	g.removeHot(g.in, to, zerocopy.Pair{Rel: rel, Nbr: from})
	g.stats.write()
	return nil
}

// Apply mirrors an edge change that is already committed to the backing
// store into memory, without writing through.
func (g *Graph) Apply(e graph.Edge, remove bool) error {
	if err := validEdge(e.Rel, e.From, e.To); err != nil {
		return err
	}
	unlock := g.locks.Lock(storage.OutgoingKey(e.From), storage.IncomingKey(e.To))
	defer unlock()

	if remove {
		g.removeHot(g.out, e.From, zerocopy.Pair{Rel: e.Rel, Nbr: e.To})
		g.removeHot(g.in, e.To, zerocopy.Pair{Rel: e.Rel, Nbr: e.From})
	} else {
		g.addHot(g.out, e.From, zerocopy.Pair{Rel: e.Rel, Nbr: e.To})
		g.addHot(g.in, e.To, zerocopy.Pair{Rel: e.Rel, Nbr: e.From})
	}
	g.stats.write()
	return nil
}

// RemoveEntity drops every edge touching entity and returns them.
func (g *Graph) RemoveEntity(entity string) ([]graph.Edge, error) {
	if entity == "" {
		return nil, storage.ErrInvalidID
	}
	var edges []graph.Edge
	if g.backing != nil {
		var err error
		if edges, err = g.backing.RemoveEntity(entity); err != nil {
			return nil, err
		}
	} else {
		edges = g.edgesOf(entity)
	}
	for _, e := range edges {
		unlock := g.locks.Lock(storage.OutgoingKey(e.From), storage.IncomingKey(e.To))
		g.removeHot(g.out, e.From, zerocopy.Pair{Rel: e.Rel, Nbr: e.To})
		g.removeHot(g.in, e.To, zerocopy.Pair{Rel: e.Rel, Nbr: e.From})
		unlock()
	}
	g.stats.write()
	return edges, nil
}

func (g *Graph) edgesOf(entity string) []graph.Edge {
	pin := g.c.Pin()
	defer pin.Unpin()
	var edges []graph.Edge
	out, _ := g.out.Load(entity)
	for _, p := range out {
		edges = append(edges, graph.Edge{Rel: p.Rel, From: entity, To: p.Nbr})
	}
	in, _ := g.in.Load(entity)
	for _, p := range in {
		if p.Nbr != entity {
			edges = append(edges, graph.Edge{Rel: p.Rel, From: p.Nbr, To: entity})
		}
	}
	return edges
}

func (g *Graph) addHot(m *Map[[]zerocopy.Pair], key string, p zerocopy.Pair) {
	m.Update(key, func(old []zerocopy.Pair, _ bool) ([]zerocopy.Pair, Op) {
		for _, q := range old {
			if q == p {
				return nil, OpNone
			}
		}
		next := g.pairs.Get()
		next = append(next, old...)
		return append(next, p), OpStore
	}, g.pairs.Put)
}

func (g *Graph) removeHot(m *Map[[]zerocopy.Pair], key string, p zerocopy.Pair) {
	m.Update(key, func(old []zerocopy.Pair, ok bool) ([]zerocopy.Pair, Op) {
		if !ok {
			return nil, OpNone
		}
		next := g.pairs.Get()
		for _, q := range old {
			if q != p {
				next = append(next, q)
			}
		}
		switch len(next) {
		case len(old):
			g.pairs.Put(next)
			return nil, OpNone
		case 0:
			g.pairs.Put(next)
			return nil, OpDelete
		}
		return next, OpStore
	}, g.pairs.Put)
}

// Outgoing returns a guard over the outgoing pairs of entity, or nil.
// The guard holds an epoch pin until closed.
func (g *Graph) Outgoing(entity string) (*zerocopy.Pairs, error) {
	return g.open(g.out, entity), nil
}

// Incoming returns a guard over the incoming pairs of entity, or nil.
func (g *Graph) Incoming(entity string) (*zerocopy.Pairs, error) {
	return g.open(g.in, entity), nil
}

func (g *Graph) open(m *Map[[]zerocopy.Pair], entity string) *zerocopy.Pairs {
	start := time.Now()
	pin := g.c.Pin()
	pairs, ok := m.Load(entity)
	g.stats.query(start, ok)
	if !ok {
		pin.Unpin()
		return nil
	}
	return zerocopy.NewPairsFromSlice(zerocopy.NewScope(pin.Unpin), true, pairs)
}

// Nodes calls fn once for every entity with at least one edge. Returning
// storage.ErrIterationStopped stops early without error.
func (g *Graph) Nodes(fn func(id string) error) error {
	seen := make(map[string]struct{})
	var err error
	visit := func(id string, _ []zerocopy.Pair) bool {
		if _, dup := seen[id]; dup {
			return true
		}
		seen[id] = struct{}{}
		err = fn(id)
		return err == nil
	}
	g.out.Range(visit)
	if err == nil {
		g.in.Range(visit)
	}
	if err == storage.ErrIterationStopped {
		return nil
	}
	return err
}

// Entities returns the number of entities with outgoing edges and with
// incoming edges.
func (g *Graph) Entities() (out, in int) {
	return g.out.Len(), g.in.Len()
}

// Stats returns the read and write counters.
func (g *Graph) Stats() StatsSnapshot { return g.stats.Snapshot() }

// Collector returns the reclamation collector.
func (g *Graph) Collector() *Collector { return g.c }

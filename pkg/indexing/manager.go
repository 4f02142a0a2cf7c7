// Package indexing provides the index manager: the single mutation and
// query surface over the structural, graph and vector indexes.
//
// A Manager fans each primary-store mutation out to the index writes it
// implies (index-on-write) and fans queries in to the index that answers
// them. Callers keep the nodes, edges and embeddings themselves; the
// manager only maintains the indexes over them.
//
// Lifecycle:
//
//	Uninitialized → Open → HotModeEnabled → Closed
//
// New returns an Uninitialized manager, Open brings up the store and the
// indexes, EnableHotMode switches graph and vector access to the lock-free
// structures of package lockfree, and Close releases everything. Every
// transition is one way; there is no path back from hot mode.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	mgr, err := indexing.Open(ctx, cfg, indexing.Options{Logger: logger})
//	if err != nil {
//		return err
//	}
//	defer mgr.Close()
//
//	_ = mgr.IndexNode(indexing.Node{
//		ID:         "m1",
//		Type:       "Message",
//		Properties: map[string]any{"chat_id": "c1", "sender": "user"},
//	})
//	_ = mgr.IndexEdge(graph.Edge{Rel: "e1", From: "c1", To: "m1"})
//	_ = mgr.IndexEmbedding(indexing.Embedding{ID: "m1", Vector: vec})
//
//	ids, _ := mgr.NodesByProperty("chat_id", "c1")
//	defer ids.Close()
//
// Guards:
//
// NodesByProperty, Outgoing and Incoming return guards that borrow the
// stored bytes (or a pinned lock-free generation). A nil guard means no
// entry. Close every guard, and close all of them before Close.
//
// Thread Safety:
//
// All methods are safe for concurrent use. In safe mode, a read started
// after a write returns observes it. In hot mode reads are linearizable
// per key only: a reader may or may not observe a write that is in flight
// on another key.
package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ocentra/TabAgentServer-sub005/pkg/cache"
	"github.com/ocentra/TabAgentServer-sub005/pkg/config"
	"github.com/ocentra/TabAgentServer-sub005/pkg/graph"
	"github.com/ocentra/TabAgentServer-sub005/pkg/lockfree"
	"github.com/ocentra/TabAgentServer-sub005/pkg/logging"
	"github.com/ocentra/TabAgentServer-sub005/pkg/metrics"
	"github.com/ocentra/TabAgentServer-sub005/pkg/storage"
	"github.com/ocentra/TabAgentServer-sub005/pkg/structural"
	"github.com/ocentra/TabAgentServer-sub005/pkg/vector"
	"github.com/ocentra/TabAgentServer-sub005/pkg/zerocopy"
)

// Errors returned by Manager operations.
var (
	ErrNotOpen       = errors.New("index manager not open")
	ErrClosed        = errors.New("index manager closed")
	ErrNoPersistPath = errors.New("vector persist path not configured")
	ErrHotMode       = errors.New("not available in hot mode")
)

// State is the manager lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateOpen
	StateHotMode
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOpen:
		return "open"
	case StateHotMode:
		return "hot"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Options carries the collaborators a Manager does not build from config.
type Options struct {
	// Logger for all components. Default slog.Default().
	Logger *slog.Logger

	// Registerer receives the manager metrics. Nil disables metrics.
	Registerer prometheus.Registerer

	// Store overrides the Badger store described by config.Storage. The
	// manager does not close a store it did not open.
	Store storage.Store
}

// Manager orchestrates the structural, graph and vector indexes.
type Manager struct {
	cfg    *config.Config
	opts   Options
	log    *slog.Logger
	schema Schema

	// lifecycle guards state and the component pointers. Operations hold
	// it shared; transitions and vector index swaps hold it exclusively.
	lifecycle sync.RWMutex
	state     State

	// writes orders batches against single writes: a batch holds it
	// exclusively so its post-commit hot-mode apply cannot interleave with
	// a single edge write on the same keys.
	writes sync.RWMutex

	// syncMu serializes folding hot vectors into the HNSW index.
	syncMu sync.Mutex

	store      storage.Store
	ownsStore  bool
	locks      *storage.KeyLocks
	structural *structural.Index
	graph      *graph.Index
	vectors    *vector.Index

	// needsRebuild is set when the vector snapshot could not be loaded.
	needsRebuild bool

	collector  *lockfree.Collector
	hotGraph   *lockfree.Graph
	hotVectors *lockfree.Vectors

	cache   *cache.SearchCache
	metrics *metrics.Metrics
}

// New validates cfg and returns an Uninitialized manager.
func New(cfg *config.Config, opts Options) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		opts:   opts,
		log:    logging.Component(opts.Logger, "indexing"),
		schema: DefaultSchema().With(cfg.Schema),
	}, nil
}

// Open is New followed by Manager.Open.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Manager, error) {
	m, err := New(cfg, opts)
	if err != nil {
		return nil, err
	}
	if err := m.Open(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Open brings up the store and the indexes:
//
//  1. opens the Badger store (unless one was supplied)
//  2. replays pending graph write intents
//  3. loads the vector snapshot, falling back to an empty index
//  4. switches to hot mode when config.HotMode.Enabled is set
//
// A missing or unreadable vector snapshot is not an error: the index
// starts empty, Stats reports NeedsRebuild, and RebuildVectors restores it.
func (m *Manager) Open(ctx context.Context) error {
	m.lifecycle.Lock()
	switch m.state {
	case StateClosed:
		m.lifecycle.Unlock()
		return ErrClosed
	case StateOpen, StateHotMode:
		m.lifecycle.Unlock()
		return nil
	}
	err := m.open()
	if err == nil {
		m.state = StateOpen
	}
	m.lifecycle.Unlock()
	if err != nil {
		return err
	}

	m.log.Info("index manager open",
		"config", m.cfg.String(),
		"vectors", m.vectors.Len(),
		"needs_rebuild", m.needsRebuild,
	)
	if m.cfg.HotMode.Enabled {
		return m.EnableHotMode(ctx)
	}
	return nil
}

func (m *Manager) open() error {
	store := m.opts.Store
	if store == nil {
		s, err := storage.NewBadgerStore(storage.BadgerOptions{
			DataDir:    m.cfg.Storage.DataDir,
			InMemory:   m.cfg.Storage.InMemory,
			SyncWrites: m.cfg.Storage.SyncWrites,
			LowMemory:  m.cfg.Storage.LowMemory,
			Logger:     logging.Component(m.opts.Logger, "badger"),
		})
		if err != nil {
			return err
		}
		store = s
		m.ownsStore = true
	}
	m.store = store
	m.locks = storage.NewKeyLocks(m.cfg.Storage.KeyLockStripes)
	m.structural = structural.New(store, m.locks, m.opts.Logger)
	m.graph = graph.New(store, graph.Options{
		WriteIntents: m.cfg.Graph.WriteIntents,
		Locks:        m.locks,
		Logger:       m.opts.Logger,
	})

	if _, err := m.graph.Recover(); err != nil {
		m.closeStore()
		return fmt.Errorf("recover graph: %w", err)
	}

	vectors, err := m.loadVectors()
	if err != nil {
		m.closeStore()
		return err
	}
	m.vectors = vectors

	if m.cfg.Cache.Enabled {
		m.cache = cache.NewSearchCache(m.cfg.Cache.Size, m.cfg.Cache.TTL)
	}
	if m.opts.Registerer != nil {
		if m.metrics, err = metrics.New(m.opts.Registerer, m.gauges); err != nil {
			m.closeStore()
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	return nil
}

// vectorConfig translates the config section into an HNSW config.
func (m *Manager) vectorConfig() vector.Config {
	v := m.cfg.Vector
	return vector.Config{
		Dimensions:     v.Dimensions,
		Metric:         vector.Metric(v.Metric),
		M:              v.M,
		EfConstruction: v.EfConstruction,
		EfSearch:       v.EfSearch,
		Seed:           v.Seed,
		Codec:          vector.Codec(v.Codec),
		Precision:      vector.Precision(v.Precision),
		Logger:         m.opts.Logger,
	}
}

func (m *Manager) loadVectors() (*vector.Index, error) {
	cfg := m.vectorConfig()
	path := m.cfg.Vector.PersistPath
	if path != "" {
		idx, err := vector.Load(path, cfg)
		switch {
		case err == nil:
			return idx, nil
		case errors.Is(err, vector.ErrNoSnapshot):
			m.log.Info("no vector snapshot, starting empty", "path", path)
		default:
			m.log.Error("vector snapshot unusable, starting empty", "path", path, "error", err)
			m.needsRebuild = true
		}
	}
	idx, err := vector.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create vector index: %w", err)
	}
	return idx, nil
}

func (m *Manager) closeStore() {
	if m.ownsStore && m.store != nil {
		if err := m.store.Close(); err != nil {
			m.log.Warn("close store", "error", err)
		}
	}
}

// acquire holds the lifecycle lock shared for one operation. It fails
// when the manager is not open.
func (m *Manager) acquire() (hot bool, release func(), err error) {
	m.lifecycle.RLock()
	switch m.state {
	case StateUninitialized:
		m.lifecycle.RUnlock()
		return false, nil, ErrNotOpen
	case StateClosed:
		m.lifecycle.RUnlock()
		return false, nil, ErrClosed
	}
	return m.state == StateHotMode, m.lifecycle.RUnlock, nil
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()
	return m.state
}

// Schema returns the effective schema.
func (m *Manager) Schema() Schema { return m.schema }

// Close persists vectors (when a persist path is configured), closes the
// store if the manager opened it and moves to Closed. Closing twice is a
// no-op.
func (m *Manager) Close() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	switch m.state {
	case StateClosed:
		return nil
	case StateUninitialized:
		m.state = StateClosed
		return nil
	}

	var errs []error
	if m.cfg.Vector.PersistPath != "" {
		if err := m.persistLocked(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("persist vectors: %w", err))
		}
	}
	if m.collector != nil {
		m.collector.Flush()
	}
	if m.ownsStore {
		if err := m.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	m.state = StateClosed
	m.log.Info("index manager closed")
	return errors.Join(errs...)
}

// =============================================================================
// Node mutations
// =============================================================================

// IndexNode adds n under node_type and every schema property it carries.
func (m *Manager) IndexNode(n Node) (err error) {
	defer func() { m.metrics.Op("index_node", err) }()
	pairs, err := m.schema.Pairs(n)
	if err != nil {
		return err
	}
	return m.writePairs(n.ID, nil, pairs)
}

// UnindexNode removes the entries IndexNode added for n. n must be the
// node as it was indexed; entries not present are ignored.
func (m *Manager) UnindexNode(n Node) (err error) {
	defer func() { m.metrics.Op("unindex_node", err) }()
	pairs, err := m.schema.Pairs(n)
	if err != nil {
		return err
	}
	return m.writePairs(n.ID, pairs, nil)
}

// UpdateNode moves the index entries of a node from old to next in one
// transaction: pairs no longer present are removed, new pairs added.
func (m *Manager) UpdateNode(old, next Node) (err error) {
	defer func() { m.metrics.Op("update_node", err) }()
	if old.ID != next.ID {
		return fmt.Errorf("%w: update changes id %q to %q", storage.ErrInvalidID, old.ID, next.ID)
	}
	before, err := m.schema.Pairs(old)
	if err != nil {
		return err
	}
	after, err := m.schema.Pairs(next)
	if err != nil {
		return err
	}
	removed, added := diffPairs(before, after)
	if len(removed) == 0 && len(added) == 0 {
		return nil
	}
	return m.writePairs(next.ID, removed, added)
}

// RemoveNode unindexes n and drops every edge touching it in one store
// transaction: if any part fails the node keeps both its entries and its
// edges. It returns the removed edges.
func (m *Manager) RemoveNode(n Node) (edges []graph.Edge, err error) {
	defer func() { m.metrics.Op("remove_node", err) }()
	pairs, err := m.schema.Pairs(n)
	if err != nil {
		return nil, err
	}
	hot, release, err := m.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	// In hot mode the in-memory mirror is updated after the commit, so
	// single edge writes must not interleave with it.
	if hot {
		m.writes.Lock()
		defer m.writes.Unlock()
	} else {
		m.writes.RLock()
		defer m.writes.RUnlock()
	}

	keys := make([][]byte, len(pairs))
	for i, p := range pairs {
		keys[i] = p.Key()
	}
	edges, err = m.graph.RemoveEntityWith(n.ID, keys, func(txn storage.Txn) error {
		for _, p := range pairs {
			if err := m.structural.RemoveTxn(txn, p.Property, p.Value, n.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if hot {
		for _, e := range edges {
			if err := m.hotGraph.Apply(e, true); err != nil {
				return nil, err
			}
		}
	}
	return edges, nil
}

// writePairs removes then adds structural entries for id in one
// transaction, holding the key locks of every touched entry.
func (m *Manager) writePairs(id string, remove, add []Pair) error {
	_, release, err := m.acquire()
	if err != nil {
		return err
	}
	defer release()
	m.writes.RLock()
	defer m.writes.RUnlock()

	keys := make([][]byte, 0, len(remove)+len(add))
	for _, p := range remove {
		keys = append(keys, p.Key())
	}
	for _, p := range add {
		keys = append(keys, p.Key())
	}
	unlock := m.locks.Lock(keys...)
	defer unlock()

	return m.store.Update(func(txn storage.Txn) error {
		for _, p := range remove {
			if err := m.structural.RemoveTxn(txn, p.Property, p.Value, id); err != nil {
				return err
			}
		}
		for _, p := range add {
			if err := m.structural.PutTxn(txn, p.Property, p.Value, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// Edge and embedding mutations
// =============================================================================

// IndexEdge records e in both directions.
func (m *Manager) IndexEdge(e graph.Edge) (err error) {
	defer func() { m.metrics.Op("index_edge", err) }()
	hot, release, err := m.acquire()
	if err != nil {
		return err
	}
	defer release()
	m.writes.RLock()
	defer m.writes.RUnlock()

	if hot {
		return m.hotGraph.AddEdge(e.Rel, e.From, e.To)
	}
	return m.graph.AddEdge(e.Rel, e.From, e.To)
}

// UnindexEdge removes e from both directions. Removing a missing edge is
// a no-op.
func (m *Manager) UnindexEdge(e graph.Edge) (err error) {
	defer func() { m.metrics.Op("unindex_edge", err) }()
	hot, release, err := m.acquire()
	if err != nil {
		return err
	}
	defer release()
	m.writes.RLock()
	defer m.writes.RUnlock()

	if hot {
		return m.hotGraph.RemoveEdge(e.Rel, e.From, e.To)
	}
	return m.graph.RemoveEdge(e.Rel, e.From, e.To)
}

// IndexEmbedding inserts or replaces the vector for emb.ID. A vector of the
// wrong dimension is rejected with a *vector.DimensionMismatchError.
func (m *Manager) IndexEmbedding(emb Embedding) (err error) {
	defer func() { m.metrics.Op("index_embedding", err) }()
	hot, release, err := m.acquire()
	if err != nil {
		return err
	}
	defer release()
	m.writes.RLock()
	defer m.writes.RUnlock()

	if hot {
		err = m.hotVectors.Add(emb.ID, emb.Vector)
	} else {
		err = m.vectors.Add(emb.ID, emb.Vector)
	}
	if err != nil {
		return fmt.Errorf("index embedding %s: %w", emb.ID, err)
	}
	m.invalidateSearches()
	return nil
}

// UnindexEmbedding removes the vector for id. Removing a missing id is a
// no-op.
func (m *Manager) UnindexEmbedding(id string) (err error) {
	defer func() { m.metrics.Op("unindex_embedding", err) }()
	hot, release, err := m.acquire()
	if err != nil {
		return err
	}
	defer release()
	m.writes.RLock()
	defer m.writes.RUnlock()

	var removed bool
	if hot {
		removed = m.hotVectors.Remove(id)
	} else {
		removed = m.vectors.Remove(id)
	}
	if removed {
		m.invalidateSearches()
	}
	return nil
}

func (m *Manager) invalidateSearches() {
	if m.cache != nil {
		m.cache.Invalidate()
	}
}

// =============================================================================
// Queries
// =============================================================================

// NodesByProperty returns a guard over the ids indexed under
// (property, value), or nil when there are none.
func (m *Manager) NodesByProperty(property, value string) (ids *zerocopy.IDs, err error) {
	defer func() { m.metrics.Op("nodes_by_property", err) }()
	_, release, err := m.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return m.structural.Query(property, value)
}

// Outgoing returns a guard over the (relationship, target) pairs leaving
// entity, or nil.
func (m *Manager) Outgoing(entity string) (pairs *zerocopy.Pairs, err error) {
	defer func() { m.metrics.Op("outgoing", err) }()
	hot, release, err := m.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	if hot {
		return m.hotGraph.Outgoing(entity)
	}
	return m.graph.Outgoing(entity)
}

// Incoming returns a guard over the (relationship, source) pairs entering
// entity, or nil.
func (m *Manager) Incoming(entity string) (pairs *zerocopy.Pairs, err error) {
	defer func() { m.metrics.Op("incoming", err) }()
	hot, release, err := m.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	if hot {
		return m.hotGraph.Incoming(entity)
	}
	return m.graph.Incoming(entity)
}

// SearchVectors returns the k nearest embeddings to query, ascending by
// distance. In safe mode the HNSW index answers; in hot mode the lock-free
// store is scanned exactly. Results are cached until the next vector
// mutation.
func (m *Manager) SearchVectors(ctx context.Context, query []float32, k int) (results []vector.Result, err error) {
	defer func() { m.metrics.Op("search_vectors", err) }()
	hot, release, err := m.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return m.search(ctx, hot, query, k)
}

// search is SearchVectors for callers holding the lifecycle lock.
func (m *Manager) search(ctx context.Context, hot bool, query []float32, k int) ([]vector.Result, error) {
	mode := searchMode(hot)
	start := time.Now()

	var key, gen uint64
	if m.cache != nil {
		key = cache.SearchKey(query, k)
		if cached, ok := m.cache.Get(key); ok {
			m.metrics.Search(mode, true, time.Since(start))
			return cached, nil
		}
		gen = m.cache.Generation()
	}

	var (
		results []vector.Result
		err     error
	)
	if hot {
		results, err = m.hotVectors.Search(ctx, query, k)
	} else {
		results, err = m.vectors.Search(ctx, query, k)
	}
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		m.cache.PutAt(gen, key, results)
	}
	m.metrics.Search(mode, false, time.Since(start))
	return results, nil
}

func searchMode(hot bool) string {
	if hot {
		return "hot"
	}
	return "safe"
}

// GraphView is a readable graph for the algorithms of package algo.
// Close releases it.
type GraphView interface {
	Nodes(fn func(id string) error) error
	Outgoing(entity string) (*zerocopy.Pairs, error)
	Incoming(entity string) (*zerocopy.Pairs, error)
	Close()
}

// hotView exposes the live lock-free graph as a GraphView.
type hotView struct {
	*lockfree.Graph
}

func (hotView) Close() {}

// GraphSnapshot returns a view for running graph algorithms. In safe mode
// it is a consistent snapshot of the store; in hot mode it is the live
// lock-free graph, which algorithms tolerate changing underneath them.
func (m *Manager) GraphSnapshot() (GraphView, error) {
	hot, release, err := m.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	if hot {
		return hotView{m.hotGraph}, nil
	}
	snap, err := m.graph.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Verify checks that every stored adjacency pair has its mirror.
func (m *Manager) Verify(ctx context.Context) (*graph.VerifyReport, error) {
	_, release, err := m.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return m.graph.Verify(ctx)
}

// Recover replays pending graph write intents and returns how many were
// applied. Open already does this; it is exposed for admin tooling. Hot
// mode refuses it since replayed edges would bypass the in-memory graph.
func (m *Manager) Recover() (int, error) {
	hot, release, err := m.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	if hot {
		return 0, ErrHotMode
	}
	m.writes.Lock()
	defer m.writes.Unlock()
	return m.graph.Recover()
}

package indexing

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ocentra/TabAgentServer-sub005/pkg/lockfree"
	"github.com/ocentra/TabAgentServer-sub005/pkg/vector"
)

// EnableHotMode migrates the graph and vector indexes into lock-free
// structures and routes all graph and vector access through them. The
// graph and the vectors are copied concurrently; the manager blocks other
// operations until both copies finish. On failure the manager stays in
// safe mode.
//
// In hot mode graph writes still go to the store before becoming visible
// in memory. Vector writes stay in memory until SyncHot or PersistVectors
// folds them into the HNSW index.
//
// Calling EnableHotMode again is a no-op.
func (m *Manager) EnableHotMode(ctx context.Context) (err error) {
	defer func() { m.metrics.Op("enable_hot_mode", err) }()
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	switch m.state {
	case StateUninitialized:
		return ErrNotOpen
	case StateClosed:
		return ErrClosed
	case StateHotMode:
		return nil
	}

	collector := lockfree.NewCollector()
	hotGraph := lockfree.NewGraph(lockfree.GraphOptions{
		Buckets:   m.cfg.HotMode.Buckets,
		Backing:   m.graph,
		Collector: collector,
		Logger:    m.opts.Logger,
	})
	hotVectors := m.newHotVectors(collector)

	var entities, vectors int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap, err := m.graph.Snapshot()
		if err != nil {
			return err
		}
		defer snap.Close()
		entities, err = hotGraph.Load(gctx, snap)
		return err
	})
	g.Go(func() error {
		var err error
		vectors, err = hotVectors.Load(gctx, m.vectors)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("enable hot mode: %w", err)
	}

	m.collector = collector
	m.hotGraph = hotGraph
	m.hotVectors = hotVectors
	m.state = StateHotMode
	m.invalidateSearches()
	m.log.Info("hot mode enabled", "entities", entities, "vectors", vectors)
	return nil
}

func (m *Manager) newHotVectors(c *lockfree.Collector) *lockfree.Vectors {
	return lockfree.NewVectors(lockfree.VectorOptions{
		Dimensions: m.cfg.Vector.Dimensions,
		Metric:     vector.Metric(m.cfg.Vector.Metric),
		Buckets:    m.cfg.HotMode.Buckets,
		Collector:  c,
		Logger:     m.opts.Logger,
	})
}

// SyncHot folds unsynced hot vector changes into the HNSW index and
// returns how many were applied. Outside hot mode it does nothing.
func (m *Manager) SyncHot() (n int, err error) {
	defer func() { m.metrics.Op("sync_hot", err) }()
	hot, release, err := m.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	if !hot {
		return 0, nil
	}
	return m.syncHot()
}

func (m *Manager) syncHot() (int, error) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	n, err := m.hotVectors.SyncTo(m.vectors)
	if err != nil {
		return n, fmt.Errorf("sync hot vectors: %w", err)
	}
	// Let retired hot buffers drain while we are here.
	m.collector.TryAdvance()
	return n, nil
}

// PersistVectors writes the vector index to the configured persist path.
// In hot mode pending changes are synced first. When the tombstone ratio
// exceeds the configured threshold the index is compacted before writing.
// ctx is checked between phases.
func (m *Manager) PersistVectors(ctx context.Context) (err error) {
	defer func() { m.metrics.Op("persist_vectors", err) }()
	_, release, err := m.acquire()
	if err != nil {
		return err
	}
	defer release()
	return m.persistLocked(ctx)
}

// persistLocked is PersistVectors for callers holding the lifecycle lock.
func (m *Manager) persistLocked(ctx context.Context) error {
	path := m.cfg.Vector.PersistPath
	if path == "" {
		return ErrNoPersistPath
	}
	if m.hotVectors != nil {
		if _, err := m.syncHot(); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t := m.cfg.Vector.CompactThreshold; t > 0 && m.vectors.TombstoneRatio() > t {
		m.vectors.Compact()
		m.invalidateSearches()
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if err := m.vectors.Persist(path); err != nil {
		return err
	}
	m.log.Info("vectors persisted", "path", path, "vectors", m.vectors.Len())
	return nil
}

// CompactVectors drops tombstoned vectors from the HNSW index and returns
// the number of slots reclaimed. In hot mode pending changes are synced
// first.
func (m *Manager) CompactVectors() (n int, err error) {
	defer func() { m.metrics.Op("compact_vectors", err) }()
	hot, release, err := m.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	if hot {
		if _, err := m.syncHot(); err != nil {
			return 0, err
		}
	}
	n = m.vectors.Compact()
	if n > 0 {
		m.invalidateSearches()
	}
	return n, nil
}

// EmbeddingSource yields every embedding of the embedding store.
type EmbeddingSource interface {
	Embeddings(ctx context.Context, fn func(Embedding) error) error
}

// EmbeddingSourceFunc adapts a function to EmbeddingSource.
type EmbeddingSourceFunc func(ctx context.Context, fn func(Embedding) error) error

func (f EmbeddingSourceFunc) Embeddings(ctx context.Context, fn func(Embedding) error) error {
	return f(ctx, fn)
}

// RebuildVectors replaces the vector index with one built from src and
// returns the number of vectors inserted. Use it when the snapshot was
// missing or unreadable at open. The new index is built off to the side;
// searches keep using the old one until the swap. In hot mode the hot
// store is reseeded from the new index and unsynced hot changes are
// discarded, src being the source of truth.
func (m *Manager) RebuildVectors(ctx context.Context, src EmbeddingSource) (n int, err error) {
	defer func() { m.metrics.Op("rebuild_vectors", err) }()
	_, release, err := m.acquire()
	if err != nil {
		return 0, err
	}
	release()

	idx, err := vector.New(m.vectorConfig())
	if err != nil {
		return 0, err
	}
	err = src.Embeddings(ctx, func(e Embedding) error {
		if n&255 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := idx.Add(e.ID, e.Vector); err != nil {
			return fmt.Errorf("embedding %s: %w", e.ID, err)
		}
		n++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rebuild vectors: %w", err)
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	switch m.state {
	case StateUninitialized:
		return 0, ErrNotOpen
	case StateClosed:
		return 0, ErrClosed
	case StateHotMode:
		hotVectors := m.newHotVectors(m.collector)
		if _, err := hotVectors.Load(ctx, idx); err != nil {
			return 0, fmt.Errorf("reseed hot vectors: %w", err)
		}
		m.hotVectors = hotVectors
	}
	m.vectors = idx
	m.needsRebuild = false
	m.invalidateSearches()
	m.log.Info("vector index rebuilt", "vectors", n)
	return n, nil
}

package indexing

import (
	"github.com/ocentra/TabAgentServer-sub005/pkg/cache"
	"github.com/ocentra/TabAgentServer-sub005/pkg/lockfree"
	"github.com/ocentra/TabAgentServer-sub005/pkg/metrics"
	"github.com/ocentra/TabAgentServer-sub005/pkg/storage"
	"github.com/ocentra/TabAgentServer-sub005/pkg/vector"
)

// Stats is a point-in-time description of the manager and its indexes.
type Stats struct {
	State State

	// StructuralValues is the number of distinct (property, value) entries.
	StructuralValues int
	PendingIntents   int
	Store            storage.Stats

	Vector       vector.Stats
	NeedsRebuild bool

	// Hot is nil outside hot mode.
	Hot *HotStats
	// Cache is nil when the search cache is disabled.
	Cache *cache.Stats
}

// HotStats describes the lock-free structures.
type HotStats struct {
	OutEntities     int
	InEntities      int
	Vectors         int
	UnsyncedVectors int
	EpochPending    int
	Graph           lockfree.StatsSnapshot
	VectorOps       lockfree.StatsSnapshot
}

// Stats collects index statistics. Counting structural entries scans the
// struct: namespace, so this is not meant for hot paths.
func (m *Manager) Stats() (Stats, error) {
	hot, release, err := m.acquire()
	if err != nil {
		return Stats{}, err
	}
	defer release()

	s := Stats{
		State:        m.state,
		Vector:       m.vectors.Stats(),
		NeedsRebuild: m.needsRebuild,
	}
	if err := m.store.View(func(txn storage.ReadTxn) error {
		return txn.Iterate([]byte(storage.PrefixStructural), func(_, _ []byte) error {
			s.StructuralValues++
			return nil
		})
	}); err != nil {
		return Stats{}, err
	}
	if s.PendingIntents, err = m.graph.PendingIntents(); err != nil {
		return Stats{}, err
	}
	if sized, ok := m.store.(interface{ Stats() storage.Stats }); ok {
		s.Store = sized.Stats()
	}
	if hot {
		out, in := m.hotGraph.Entities()
		s.Hot = &HotStats{
			OutEntities:     out,
			InEntities:      in,
			Vectors:         m.hotVectors.Len(),
			UnsyncedVectors: m.hotVectors.Unsynced(),
			EpochPending:    m.collector.Pending(),
			Graph:           m.hotGraph.Stats(),
			VectorOps:       m.hotVectors.Stats(),
		}
	}
	if m.cache != nil {
		cs := m.cache.Stats()
		s.Cache = &cs
	}
	return s, nil
}

// gauges feeds the metrics collector. Errors and closed managers report
// zeros.
func (m *Manager) gauges() metrics.Gauges {
	s, err := m.Stats()
	if err != nil {
		return metrics.Gauges{}
	}
	g := metrics.Gauges{
		StructuralValues: s.StructuralValues,
		Vectors:          s.Vector.Live,
		Tombstones:       s.Vector.Tombstones,
	}
	if s.Hot != nil {
		g.HotOutEntities = s.Hot.OutEntities
		g.HotInEntities = s.Hot.InEntities
		g.HotVectors = s.Hot.Vectors
		g.UnsyncedVectors = s.Hot.UnsyncedVectors
		g.EpochPending = int64(s.Hot.EpochPending)
	}
	if s.Cache != nil {
		g.CacheEntries = s.Cache.Size
	}
	return g
}

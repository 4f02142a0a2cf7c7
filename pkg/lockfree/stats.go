package lockfree

import (
	"sync/atomic"
	"time"
)

// Stats counts hot-mode traffic. Counters are independent atomics; a
// snapshot taken during traffic may mix values from slightly different
// instants.
type Stats struct {
	queries   atomic.Uint64
	hits      atomic.Uint64
	misses    atomic.Uint64
	writes    atomic.Uint64
	latencyNs atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Queries      uint64
	Hits         uint64
	Misses       uint64
	Writes       uint64
	TotalLatency time.Duration
}

// AvgLatency returns the mean query latency.
func (s StatsSnapshot) AvgLatency() time.Duration {
	if s.Queries == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Queries)
}

// HitRate returns hits / (hits + misses).
func (s StatsSnapshot) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (s *Stats) query(start time.Time, hit bool) {
	s.queries.Add(1)
	if hit {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	s.latencyNs.Add(uint64(time.Since(start)))
}

func (s *Stats) write() { s.writes.Add(1) }

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Queries:      s.queries.Load(),
		Hits:         s.hits.Load(),
		Misses:       s.misses.Load(),
		Writes:       s.writes.Load(),
		TotalLatency: time.Duration(s.latencyNs.Load()),
	}
}

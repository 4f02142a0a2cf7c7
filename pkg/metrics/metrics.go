// Package metrics exposes index manager activity as Prometheus metrics.
//
// Metrics are registered on a caller-supplied registerer so several
// managers (or tests) can coexist. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tabindex"

// Gauges is a point-in-time view of index sizes, read at scrape time.
type Gauges struct {
	StructuralValues int
	Vectors          int
	Tombstones       int
	HotOutEntities   int
	HotInEntities    int
	HotVectors       int
	UnsyncedVectors  int
	EpochPending     int64
	CacheEntries     int
}

// Metrics records manager operations.
type Metrics struct {
	ops    *prometheus.CounterVec
	search *prometheus.HistogramVec
}

// New registers the manager metrics on reg. stats, when non-nil, is
// called on every scrape to report index sizes.
func New(reg prometheus.Registerer, stats func() Gauges) (*Metrics, error) {
	m := &Metrics{
		ops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Index mutations and queries by operation and outcome.",
			},
			[]string{"op", "status"},
		),
		search: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "vector_search_duration_seconds",
				Help:      "Vector search latency.",
				// Cache hits land in the microsecond buckets.
				Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"mode", "cache"},
		),
	}
	var err error
	if m.ops, err = register(reg, m.ops); err != nil {
		return nil, err
	}
	if m.search, err = register(reg, m.search); err != nil {
		return nil, err
	}
	if stats != nil {
		if _, err := register(reg, newGaugeCollector(stats)); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// register adds c to reg, reusing an identical collector that is already
// registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Op counts one operation.
func (m *Metrics) Op(op string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ops.WithLabelValues(op, status).Inc()
}

// Search records one vector search. mode is "safe" or "hot".
func (m *Metrics) Search(mode string, cached bool, d time.Duration) {
	if m == nil {
		return
	}
	cache := "miss"
	if cached {
		cache = "hit"
	}
	m.search.WithLabelValues(mode, cache).Observe(d.Seconds())
}

type gaugeCollector struct {
	stats func() Gauges
	descs struct {
		structural, vectors, tombstones *prometheus.Desc
		hotEntities, hotVectors         *prometheus.Desc
		unsynced, epochPending, cache   *prometheus.Desc
	}
}

func newGaugeCollector(stats func() Gauges) *gaugeCollector {
	g := &gaugeCollector{stats: stats}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	g.descs.structural = desc("structural_values", "Distinct property values in the structural index.")
	g.descs.vectors = desc("vectors", "Live vectors in the HNSW index.")
	g.descs.tombstones = desc("vector_tombstones", "Removed vectors awaiting compaction.")
	g.descs.hotEntities = desc("hot_entities", "Entities held by the lock-free graph.", "direction")
	g.descs.hotVectors = desc("hot_vectors", "Vectors held by the lock-free store.")
	g.descs.unsynced = desc("hot_unsynced_vectors", "Lock-free vector changes not yet folded into HNSW.")
	g.descs.epochPending = desc("epoch_pending", "Retired objects awaiting reclamation.")
	g.descs.cache = desc("cache_entries", "Cached vector search results.")
	return g
}

func (g *gaugeCollector) Describe(ch chan<- *prometheus.Desc) {
	d := g.descs
	for _, x := range []*prometheus.Desc{d.structural, d.vectors, d.tombstones, d.hotEntities, d.hotVectors, d.unsynced, d.epochPending, d.cache} {
		ch <- x
	}
}

func (g *gaugeCollector) Collect(ch chan<- prometheus.Metric) {
	s := g.stats()
	d := g.descs
	gauge := func(desc *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, labels...)
	}
	gauge(d.structural, float64(s.StructuralValues))
	gauge(d.vectors, float64(s.Vectors))
	gauge(d.tombstones, float64(s.Tombstones))
	gauge(d.hotEntities, float64(s.HotOutEntities), "out")
	gauge(d.hotEntities, float64(s.HotInEntities), "in")
	gauge(d.hotVectors, float64(s.HotVectors))
	gauge(d.unsynced, float64(s.UnsyncedVectors))
	gauge(d.epochPending, float64(s.EpochPending))
	gauge(d.cache, float64(s.CacheEntries))
}

package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg, nil)
	require.NoError(t, err)

	m.Op("index_node", nil)
	m.Op("index_node", nil)
	m.Op("index_node", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ops.WithLabelValues("index_node", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("index_node", "error")))
}

func TestSearchHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg, nil)
	require.NoError(t, err)

	m.Search("safe", false, 2*time.Millisecond)
	m.Search("hot", true, 5*time.Microsecond)

	assert.Equal(t, 2, testutil.CollectAndCount(m.search))
}

func TestGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg, func() Gauges {
		return Gauges{Vectors: 10, Tombstones: 2, HotOutEntities: 3, HotInEntities: 4}
	})
	require.NoError(t, err)

	expected := `
# HELP tabindex_hot_entities Entities held by the lock-free graph.
# TYPE tabindex_hot_entities gauge
tabindex_hot_entities{direction="in"} 4
tabindex_hot_entities{direction="out"} 3
# HELP tabindex_vectors Live vectors in the HNSW index.
# TYPE tabindex_vectors gauge
tabindex_vectors 10
# HELP tabindex_vector_tombstones Removed vectors awaiting compaction.
# TYPE tabindex_vector_tombstones gauge
tabindex_vector_tombstones 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"tabindex_hot_entities", "tabindex_vectors", "tabindex_vector_tombstones"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Op("x", nil)
	m.Search("safe", false, time.Second)
}

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg, nil)
	require.NoError(t, err)
	second, err := New(reg, nil)
	require.NoError(t, err, "already registered collectors are reused")

	second.Op("compact", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(first.ops.WithLabelValues("compact", "ok")))
}

package indexing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSchema(t *testing.T) {
	s := DefaultSchema()
	assert.Len(t, s, 13)
	assert.Equal(t, []string{"chat_id", "sender"}, s["Message"])
	assert.Equal(t, []string{"level", "context", "source"}, s["Log"])
	assert.Empty(t, s["WebSearch"])
	assert.Equal(t, "ActionOutcome", s.Types()[0])
}

func TestSchemaWith(t *testing.T) {
	base := DefaultSchema()
	s := base.With(map[string][]string{"Chat": {"title"}})
	assert.Equal(t, []string{"title"}, s["Chat"])
	assert.Equal(t, []string{"topic"}, base["Chat"], "base is not modified")

	var empty Schema
	assert.Equal(t, []string{"x"}, empty.With(map[string][]string{"T": {"x"}})["T"])
}

func TestPairs(t *testing.T) {
	s := Schema{"Log": {"level", "source", "level", PropertyNodeType, "when", "count"}}
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	pairs, err := s.Pairs(Node{ID: "l1", Type: "Log", Properties: map[string]any{
		"level":  "warn",
		"source": nil,
		"when":   when,
		"count":  3,
	}})
	require.NoError(t, err)
	assert.Equal(t, []Pair{
		{PropertyNodeType, "Log"},
		{"level", "warn"},
		{"when", "2024-03-01T12:00:00Z"},
		{"count", "3"},
	}, pairs)
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "abc", "abc"},
		{"empty_string", "", ""},
		{"bytes", []byte("raw"), "raw"},
		{"bool", true, "true"},
		{"int64", int64(-4), "-4"},
		{"float", 0.5, "0.5"},
		{"float32", float32(1.25), "1.25"},
		{"duration_stringer", 2 * time.Second, "2s"},
		{"fallback", []int{1, 2}, "[1 2]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatValue(tt.in))
		})
	}
}

func TestDiffPairs(t *testing.T) {
	old := []Pair{{"a", "1"}, {"b", "1"}}
	next := []Pair{{"a", "1"}, {"b", "2"}}
	removed, added := diffPairs(old, next)
	assert.Equal(t, []Pair{{"b", "1"}}, removed)
	assert.Equal(t, []Pair{{"b", "2"}}, added)
}

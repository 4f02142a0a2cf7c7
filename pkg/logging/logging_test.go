package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocentra/TabAgentServer-sub005/pkg/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" ERROR ", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("trace")
	assert.Error(t, err)
}

func TestJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(&buf, "json", slog.LevelInfo)
	require.NoError(t, err)
	log := Component(slog.New(h), "graph")

	log.Debug("dropped")
	log.Error("consistency violation", "entity", "a")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "consistency violation", rec["msg"])
	assert.Equal(t, "graph", rec["component"])
	assert.Equal(t, "a", rec["entity"])
	assert.Equal(t, "ERROR", rec["level"])
}

func TestUnknownFormat(t *testing.T) {
	_, err := NewHandler(&bytes.Buffer{}, "xml", slog.LevelInfo)
	assert.Error(t, err)
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabindex.log")
	log, closer, err := New(config.LoggingConfig{Level: "DEBUG", Format: "text", Output: path})
	require.NoError(t, err)

	log.Debug("opened", "n", 1)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=opened")
	assert.Contains(t, string(data), "n=1")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Level: "LOUD"})
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	assert.False(t, Discard().Enabled(context.Background(), slog.LevelError))
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Defaults and environment
// =============================================================================

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, "./data", c.Storage.DataDir)
	assert.Equal(t, 384, c.Vector.Dimensions)
	assert.Equal(t, "cosine", c.Vector.Metric)
	assert.Equal(t, "zstd", c.Vector.Codec)
	assert.Empty(t, c.Vector.PersistPath, "no persist path is guessed")
	assert.False(t, c.HotMode.Enabled)
	assert.True(t, c.Cache.Enabled)
	assert.Equal(t, 5*time.Minute, c.Cache.TTL)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TABINDEX_IN_MEMORY", "true")
	t.Setenv("TABINDEX_VECTOR_DIMENSIONS", "768")
	t.Setenv("TABINDEX_VECTOR_METRIC", "EUCLIDEAN")
	t.Setenv("TABINDEX_VECTOR_PERSIST_PATH", "/tmp/v.tbxv")
	t.Setenv("TABINDEX_VECTOR_COMPACT_THRESHOLD", "0.5")
	t.Setenv("TABINDEX_HOT_MODE", "yes")
	t.Setenv("TABINDEX_CACHE_TTL", "30")
	t.Setenv("TABINDEX_LOG_LEVEL", "debug")
	t.Setenv("TABINDEX_SCHEMA", "Chat=topic, title;Note=")

	c := LoadFromEnv()
	require.NoError(t, c.Validate())
	assert.True(t, c.Storage.InMemory)
	assert.Equal(t, 768, c.Vector.Dimensions)
	assert.Equal(t, "euclidean", c.Vector.Metric)
	assert.Equal(t, "/tmp/v.tbxv", c.Vector.PersistPath)
	assert.Equal(t, 0.5, c.Vector.CompactThreshold)
	assert.True(t, c.HotMode.Enabled)
	assert.Equal(t, 30*time.Second, c.Cache.TTL)
	assert.Equal(t, "DEBUG", c.Logging.Level)
	assert.Equal(t, map[string][]string{
		"Chat": {"topic", "title"},
		"Note": {},
	}, c.Schema)
}

func TestLoadFromEnvIgnoresMalformed(t *testing.T) {
	t.Setenv("TABINDEX_VECTOR_DIMENSIONS", "many")
	t.Setenv("TABINDEX_CACHE_TTL", "soon")
	c := LoadFromEnv()
	assert.Equal(t, 384, c.Vector.Dimensions)
	assert.Equal(t, 5*time.Minute, c.Cache.TTL)
}

// =============================================================================
// YAML file
// =============================================================================

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabindex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  data_dir: /var/lib/tabindex
  sync_writes: true
vector:
  dimensions: 1536
  ef_search: 64
  persist_path: /var/lib/tabindex/vectors.tbxv
  precision: float16
cache:
  ttl: 1m
schema:
  Message: [chat_id]
`), 0o600))

	t.Run("file_values_over_defaults", func(t *testing.T) {
		c, err := LoadFile(path)
		require.NoError(t, err)
		require.NoError(t, c.Validate())
		assert.Equal(t, "/var/lib/tabindex", c.Storage.DataDir)
		assert.True(t, c.Storage.SyncWrites)
		assert.Equal(t, 1536, c.Vector.Dimensions)
		assert.Equal(t, 64, c.Vector.EfSearch)
		assert.Equal(t, 200, c.Vector.EfConstruction, "missing keys keep defaults")
		assert.Equal(t, "float16", c.Vector.Precision)
		assert.Equal(t, time.Minute, c.Cache.TTL)
		assert.Equal(t, []string{"chat_id"}, c.Schema["Message"])
	})

	t.Run("env_over_file", func(t *testing.T) {
		t.Setenv("TABINDEX_VECTOR_EF_SEARCH", "32")
		c, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, 32, c.Vector.EfSearch)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("malformed_file", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("vector: [unclosed"), 0o600))
		_, err := LoadFile(bad)
		assert.Error(t, err)
	})
}

// =============================================================================
// Validation
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no_data_dir", func(c *Config) { c.Storage.DataDir = "" }},
		{"zero_dimensions", func(c *Config) { c.Vector.Dimensions = 0 }},
		{"unknown_metric", func(c *Config) { c.Vector.Metric = "manhattan" }},
		{"small_m", func(c *Config) { c.Vector.M = 1 }},
		{"zero_ef", func(c *Config) { c.Vector.EfSearch = 0 }},
		{"unknown_codec", func(c *Config) { c.Vector.Codec = "gzip" }},
		{"unknown_precision", func(c *Config) { c.Vector.Precision = "int8" }},
		{"threshold_above_one", func(c *Config) { c.Vector.CompactThreshold = 1.5 }},
		{"negative_buckets", func(c *Config) { c.HotMode.Buckets = -1 }},
		{"zero_cache_size", func(c *Config) { c.Cache.Size = 0 }},
		{"unknown_log_level", func(c *Config) { c.Logging.Level = "TRACE" }},
		{"unknown_log_format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad_memory_limit", func(c *Config) { c.Runtime.MemoryLimit = "lots" }},
		{"empty_schema_type", func(c *Config) { c.Schema = map[string][]string{"": {"x"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	t.Run("in_memory_needs_no_dir", func(t *testing.T) {
		c := Default()
		c.Storage.DataDir = ""
		c.Storage.InMemory = true
		assert.NoError(t, c.Validate())
	})

	t.Run("disabled_cache_ignores_size", func(t *testing.T) {
		c := Default()
		c.Cache.Enabled = false
		c.Cache.Size = 0
		assert.NoError(t, c.Validate())
	})
}

func TestString(t *testing.T) {
	c := Default()
	c.Storage.InMemory = true
	s := c.String()
	assert.Contains(t, s, ":memory:")
	assert.Contains(t, s, "384/cosine")
}

// =============================================================================
// Memory sizes
// =============================================================================

func TestParseMemorySize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int64
	}{
		{"bytes numeric", "1024", 1024},
		{"bytes with B suffix", "1024B", 1024},
		{"kilobytes", "1KB", 1024},
		{"megabytes lowercase", "512mb", 512 * 1024 * 1024},
		{"gigabytes", "2G", 2 * 1024 * 1024 * 1024},
		{"terabytes", "1TB", 1024 * 1024 * 1024 * 1024},
		{"zero", "0", 0},
		{"unlimited", "unlimited", 0},
		{"empty string", "", 0},
		{"whitespace", "  2GB  ", 2 * 1024 * 1024 * 1024},
		{"invalid chars", "abc", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseMemorySize(tt.input))
		})
	}
}

func TestFormatMemorySize(t *testing.T) {
	assert.Equal(t, "512 B", FormatMemorySize(512))
	assert.Equal(t, "1.50 KB", FormatMemorySize(1536))
	assert.Equal(t, "2.00 MB", FormatMemorySize(2*1024*1024))
	assert.Equal(t, "1.00 GB", FormatMemorySize(1024*1024*1024))
}

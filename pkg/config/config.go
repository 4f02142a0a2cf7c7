// Package config handles tabindex configuration.
//
// Configuration starts from Default(), is optionally read from a YAML file
// with LoadFile(), and is then overridden by TABINDEX_* environment
// variables. LoadFromEnv() skips the file step. Validate() should be called
// before use.
//
// Example Usage:
//
//	cfg, err := config.LoadFile("tabindex.yaml")
//	if err != nil {
//		log.Fatalf("config: %v", err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// Environment Variables:
//
//   - TABINDEX_DATA_DIR="./data"
//   - TABINDEX_IN_MEMORY=false
//   - TABINDEX_SYNC_WRITES=false
//   - TABINDEX_LOW_MEMORY=false
//   - TABINDEX_KEY_LOCK_STRIPES=256
//   - TABINDEX_GRAPH_WRITE_INTENTS=false
//   - TABINDEX_VECTOR_DIMENSIONS=384
//   - TABINDEX_VECTOR_METRIC="cosine"
//   - TABINDEX_VECTOR_M=16
//   - TABINDEX_VECTOR_EF_CONSTRUCTION=200
//   - TABINDEX_VECTOR_EF_SEARCH=100
//   - TABINDEX_VECTOR_SEED=1
//   - TABINDEX_VECTOR_PERSIST_PATH="./data/vectors.tbxv"
//   - TABINDEX_VECTOR_CODEC="zstd"
//   - TABINDEX_VECTOR_PRECISION="float32"
//   - TABINDEX_VECTOR_COMPACT_THRESHOLD=0.3
//   - TABINDEX_HOT_MODE=false
//   - TABINDEX_HOT_BUCKETS=1024
//   - TABINDEX_CACHE_ENABLED=true
//   - TABINDEX_CACHE_SIZE=1000
//   - TABINDEX_CACHE_TTL=5m
//   - TABINDEX_LOG_LEVEL="INFO"
//   - TABINDEX_LOG_FORMAT="text"
//   - TABINDEX_LOG_OUTPUT="stderr"
//   - TABINDEX_MEMORY_LIMIT="2GB"
//   - TABINDEX_GC_PERCENT=100
//   - TABINDEX_SCHEMA="Chat=topic;Message=chat_id,sender"
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tabindex configuration.
//
// Configuration is organized into sections:
//   - Storage: primary store location and tuning
//   - Graph: adjacency write mode
//   - Vector: HNSW parameters and snapshot settings
//   - HotMode: lock-free execution
//   - Cache: vector search result cache
//   - Logging: log output
//   - Runtime: Go runtime memory settings
//   - Schema: indexed properties per node type
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Graph   GraphConfig   `yaml:"graph"`
	Vector  VectorConfig  `yaml:"vector"`
	HotMode HotModeConfig `yaml:"hot_mode"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
	Runtime RuntimeConfig `yaml:"runtime"`

	// Schema maps a node type to the properties indexed for it, replacing
	// the built-in entry for that type. node_type is always indexed.
	Schema map[string][]string `yaml:"schema"`
}

// StorageConfig holds primary store settings.
type StorageConfig struct {
	// DataDir is the Badger directory. Ignored when InMemory is set.
	DataDir string `yaml:"data_dir"`
	// InMemory keeps everything in memory (tests, scratch runs)
	InMemory bool `yaml:"in_memory"`
	// SyncWrites fsyncs every commit
	SyncWrites bool `yaml:"sync_writes"`
	// LowMemory shrinks Badger's tables and caches
	LowMemory bool `yaml:"low_memory"`
	// KeyLockStripes sizes the striped key lock table shared by writers
	KeyLockStripes int `yaml:"key_lock_stripes"`
}

// GraphConfig holds graph index settings.
type GraphConfig struct {
	// WriteIntents splits each edge write into per-side transactions
	// guarded by a recoverable intent marker.
	WriteIntents bool `yaml:"write_intents"`
}

// VectorConfig holds vector index settings.
type VectorConfig struct {
	Dimensions     int     `yaml:"dimensions"`
	Metric         string  `yaml:"metric"`
	M              int     `yaml:"m"`
	EfConstruction int     `yaml:"ef_construction"`
	EfSearch       int     `yaml:"ef_search"`
	Seed           int64   `yaml:"seed"`
	// PersistPath is where the index snapshot is written. Empty disables
	// persistence.
	PersistPath string `yaml:"persist_path"`
	Codec       string `yaml:"codec"`
	Precision   string `yaml:"precision"`
	// CompactThreshold is the tombstone ratio above which PersistVectors
	// compacts first. 0 disables.
	CompactThreshold float64 `yaml:"compact_threshold"`
}

// HotModeConfig holds lock-free mode settings.
type HotModeConfig struct {
	// Enabled switches to hot mode right after open.
	Enabled bool `yaml:"enabled"`
	// Buckets per lock-free map
	Buckets int `yaml:"buckets"`
}

// CacheConfig holds search result cache settings.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (DEBUG, INFO, WARN, ERROR)
	Level string `yaml:"level"`
	// Format (json, text)
	Format string `yaml:"format"`
	// Output (stdout, stderr, or file path)
	Output string `yaml:"output"`
}

// RuntimeConfig holds Go runtime memory settings.
type RuntimeConfig struct {
	// MemoryLimit is a soft limit such as "2GB"; empty or "0" means none.
	MemoryLimit string `yaml:"memory_limit"`
	GCPercent   int    `yaml:"gc_percent"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:        "./data",
			KeyLockStripes: 256,
		},
		Vector: VectorConfig{
			Dimensions:       384,
			Metric:           "cosine",
			M:                16,
			EfConstruction:   200,
			EfSearch:         100,
			Seed:             1,
			Codec:            "zstd",
			Precision:        "float32",
			CompactThreshold: 0.3,
		},
		HotMode: HotModeConfig{Buckets: 1024},
		Cache: CacheConfig{
			Enabled: true,
			Size:    1000,
			TTL:     5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stderr",
		},
		Runtime: RuntimeConfig{GCPercent: 100},
	}
}

// LoadFromEnv returns Default() with environment overrides applied.
func LoadFromEnv() *Config {
	c := Default()
	c.applyEnv()
	return c
}

// LoadFile reads a YAML file over Default() and then applies environment
// overrides. Keys missing from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	c.applyEnv()
	return c, nil
}

func (c *Config) applyEnv() {
	c.Storage.DataDir = getEnv("TABINDEX_DATA_DIR", c.Storage.DataDir)
	c.Storage.InMemory = getEnvBool("TABINDEX_IN_MEMORY", c.Storage.InMemory)
	c.Storage.SyncWrites = getEnvBool("TABINDEX_SYNC_WRITES", c.Storage.SyncWrites)
	c.Storage.LowMemory = getEnvBool("TABINDEX_LOW_MEMORY", c.Storage.LowMemory)
	c.Storage.KeyLockStripes = getEnvInt("TABINDEX_KEY_LOCK_STRIPES", c.Storage.KeyLockStripes)

	c.Graph.WriteIntents = getEnvBool("TABINDEX_GRAPH_WRITE_INTENTS", c.Graph.WriteIntents)

	c.Vector.Dimensions = getEnvInt("TABINDEX_VECTOR_DIMENSIONS", c.Vector.Dimensions)
	c.Vector.Metric = strings.ToLower(getEnv("TABINDEX_VECTOR_METRIC", c.Vector.Metric))
	c.Vector.M = getEnvInt("TABINDEX_VECTOR_M", c.Vector.M)
	c.Vector.EfConstruction = getEnvInt("TABINDEX_VECTOR_EF_CONSTRUCTION", c.Vector.EfConstruction)
	c.Vector.EfSearch = getEnvInt("TABINDEX_VECTOR_EF_SEARCH", c.Vector.EfSearch)
	c.Vector.Seed = int64(getEnvInt("TABINDEX_VECTOR_SEED", int(c.Vector.Seed)))
	c.Vector.PersistPath = getEnv("TABINDEX_VECTOR_PERSIST_PATH", c.Vector.PersistPath)
	c.Vector.Codec = strings.ToLower(getEnv("TABINDEX_VECTOR_CODEC", c.Vector.Codec))
	c.Vector.Precision = strings.ToLower(getEnv("TABINDEX_VECTOR_PRECISION", c.Vector.Precision))
	c.Vector.CompactThreshold = getEnvFloat("TABINDEX_VECTOR_COMPACT_THRESHOLD", c.Vector.CompactThreshold)

	c.HotMode.Enabled = getEnvBool("TABINDEX_HOT_MODE", c.HotMode.Enabled)
	c.HotMode.Buckets = getEnvInt("TABINDEX_HOT_BUCKETS", c.HotMode.Buckets)

	c.Cache.Enabled = getEnvBool("TABINDEX_CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.Size = getEnvInt("TABINDEX_CACHE_SIZE", c.Cache.Size)
	c.Cache.TTL = getEnvDuration("TABINDEX_CACHE_TTL", c.Cache.TTL)

	c.Logging.Level = strings.ToUpper(getEnv("TABINDEX_LOG_LEVEL", c.Logging.Level))
	c.Logging.Format = strings.ToLower(getEnv("TABINDEX_LOG_FORMAT", c.Logging.Format))
	c.Logging.Output = getEnv("TABINDEX_LOG_OUTPUT", c.Logging.Output)

	c.Runtime.MemoryLimit = getEnv("TABINDEX_MEMORY_LIMIT", c.Runtime.MemoryLimit)
	c.Runtime.GCPercent = getEnvInt("TABINDEX_GC_PERCENT", c.Runtime.GCPercent)

	if v := os.Getenv("TABINDEX_SCHEMA"); v != "" {
		if c.Schema == nil {
			c.Schema = make(map[string][]string)
		}
		for typ, props := range parseSchema(v) {
			c.Schema[typ] = props
		}
	}
}

// parseSchema reads "Type=a,b;Other=c".
func parseSchema(s string) map[string][]string {
	out := make(map[string][]string)
	for _, part := range strings.Split(s, ";") {
		typ, props, ok := strings.Cut(part, "=")
		typ = strings.TrimSpace(typ)
		if !ok || typ == "" {
			continue
		}
		out[typ] = splitList(props)
	}
	return out
}

// Validate checks the configuration.
//
// Returns nil if configuration is valid, or an error describing the
// first problem found.
func (c *Config) Validate() error {
	if !c.Storage.InMemory && c.Storage.DataDir == "" {
		return errors.New("data directory required unless in_memory is set")
	}
	if c.Storage.KeyLockStripes < 0 {
		return fmt.Errorf("invalid key lock stripes: %d", c.Storage.KeyLockStripes)
	}

	if c.Vector.Dimensions <= 0 {
		return fmt.Errorf("invalid vector dimensions: %d", c.Vector.Dimensions)
	}
	switch c.Vector.Metric {
	case "cosine", "euclidean", "dot":
	default:
		return fmt.Errorf("unknown vector metric %q", c.Vector.Metric)
	}
	if c.Vector.M < 2 {
		return fmt.Errorf("invalid vector m: %d", c.Vector.M)
	}
	if c.Vector.EfConstruction < 1 || c.Vector.EfSearch < 1 {
		return fmt.Errorf("invalid ef values: construction=%d search=%d", c.Vector.EfConstruction, c.Vector.EfSearch)
	}
	switch c.Vector.Codec {
	case "none", "zstd", "lz4":
	default:
		return fmt.Errorf("unknown vector codec %q", c.Vector.Codec)
	}
	switch c.Vector.Precision {
	case "float32", "float16":
	default:
		return fmt.Errorf("unknown vector precision %q", c.Vector.Precision)
	}
	if c.Vector.CompactThreshold < 0 || c.Vector.CompactThreshold > 1 {
		return fmt.Errorf("compact threshold must be within [0,1], got %g", c.Vector.CompactThreshold)
	}

	if c.HotMode.Buckets < 0 {
		return fmt.Errorf("invalid hot mode buckets: %d", c.HotMode.Buckets)
	}
	if c.Cache.Enabled && c.Cache.Size <= 0 {
		return fmt.Errorf("invalid cache size: %d", c.Cache.Size)
	}

	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}

	if parseMemorySize(c.Runtime.MemoryLimit) < 0 {
		return fmt.Errorf("invalid memory limit %q", c.Runtime.MemoryLimit)
	}
	for typ := range c.Schema {
		if typ == "" {
			return errors.New("schema entry with empty node type")
		}
	}
	return nil
}

// String returns a short representation of the Config suitable for
// logging.
func (c *Config) String() string {
	dir := c.Storage.DataDir
	if c.Storage.InMemory {
		dir = ":memory:"
	}
	return fmt.Sprintf(
		"Config{DataDir: %s, Vector: %d/%s, HotMode: %v, Cache: %v, PersistPath: %q}",
		dir,
		c.Vector.Dimensions, c.Vector.Metric,
		c.HotMode.Enabled,
		c.Cache.Enabled,
		c.Vector.PersistPath,
	)
}

// ApplyRuntime applies the runtime memory settings to the Go runtime.
// Should be called early in main() before heavy allocations.
func (r RuntimeConfig) ApplyRuntime() {
	if limit := parseMemorySize(r.MemoryLimit); limit > 0 {
		debug.SetMemoryLimit(limit)
	}
	if r.GCPercent != 0 && r.GCPercent != 100 {
		debug.SetGCPercent(r.GCPercent)
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseMemorySize parses a human-readable memory size string.
// Supports: "1024", "1KB", "1MB", "1GB", "1TB", "0", "unlimited"
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return -1
	}
	return val * multiplier
}

// FormatMemorySize formats bytes as human-readable string.
func FormatMemorySize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

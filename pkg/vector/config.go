package vector

import (
	"fmt"
	"log/slog"
	"math"

	mathvec "github.com/ocentra/TabAgentServer-sub005/pkg/math/vector"
)

// Metric selects the distance function. Smaller distance = closer.
type Metric string

const (
	// Cosine distance is 1 - cos(a, b). Vectors are normalized on insert.
	Cosine Metric = "cosine"
	// Euclidean distance is ‖a - b‖.
	Euclidean Metric = "euclidean"
	// Dot distance is -(a · b), so larger inner products rank first.
	Dot Metric = "dot"
)

// Supported embedding sizes produced by the embedding models in use. Any
// positive dimension is accepted; these are the ones tuned for.
const (
	Dim384  = 384
	Dim768  = 768
	Dim1536 = 1536
)

// Codec selects snapshot compression.
type Codec string

const (
	CodecNone Codec = "none"
	CodecZstd Codec = "zstd"
	CodecLZ4  Codec = "lz4"
)

// Precision selects how vectors are stored in snapshots.
type Precision string

const (
	Float32 Precision = "float32"
	// Float16 halves snapshot size at the cost of ~3 decimal digits.
	Float16 Precision = "float16"
)

// Config contains configuration parameters for the HNSW index.
type Config struct {
	Dimensions     int
	Metric         Metric
	M              int   // Max connections per node per layer (default: 16)
	EfConstruction int   // Candidate list size during construction (default: 200)
	EfSearch       int   // Candidate list size during search (default: 100)
	Seed           int64 // Level generator seed; equal seeds give equal graphs

	Codec     Codec     // Snapshot compression (default: zstd)
	Precision Precision // Snapshot vector precision (default: float32)

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for an index of the given size.
func DefaultConfig(dimensions int) Config {
	return Config{
		Dimensions:     dimensions,
		Metric:         Cosine,
		M:              16,
		EfConstruction: 200,
		EfSearch:       100,
		Seed:           1,
		Codec:          CodecZstd,
		Precision:      Float32,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig(c.Dimensions)
	if c.Metric == "" {
		c.Metric = def.Metric
	}
	if c.M == 0 {
		c.M = def.M
	}
	if c.EfConstruction == 0 {
		c.EfConstruction = def.EfConstruction
	}
	if c.EfSearch == 0 {
		c.EfSearch = def.EfSearch
	}
	if c.Codec == "" {
		c.Codec = def.Codec
	}
	if c.Precision == "" {
		c.Precision = def.Precision
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Dimensions <= 0 {
		return fmt.Errorf("%w: dimensions must be positive, got %d", ErrInvalidConfig, c.Dimensions)
	}
	if c.M < 2 {
		return fmt.Errorf("%w: M must be at least 2, got %d", ErrInvalidConfig, c.M)
	}
	if c.EfConstruction < 1 || c.EfSearch < 1 {
		return fmt.Errorf("%w: ef values must be positive", ErrInvalidConfig)
	}
	switch c.Metric {
	case Cosine, Euclidean, Dot:
	default:
		return fmt.Errorf("%w: unknown metric %q", ErrInvalidConfig, c.Metric)
	}
	switch c.Codec {
	case CodecNone, CodecZstd, CodecLZ4:
	default:
		return fmt.Errorf("%w: unknown codec %q", ErrInvalidConfig, c.Codec)
	}
	switch c.Precision {
	case Float32, Float16:
	default:
		return fmt.Errorf("%w: unknown precision %q", ErrInvalidConfig, c.Precision)
	}
	return nil
}

func (c Config) levelMultiplier() float64 {
	return 1.0 / math.Log(float64(c.M))
}

// DistanceFunc returns the distance kernel for a metric. Cosine assumes
// both inputs are already normalized (see Prepare).
func DistanceFunc(m Metric) func(a, b []float32) float64 {
	switch m {
	case Euclidean:
		return mathvec.Euclidean
	case Dot:
		return func(a, b []float32) float64 { return -mathvec.DotProduct(a, b) }
	default:
		return func(a, b []float32) float64 { return 1.0 - mathvec.DotProduct(a, b) }
	}
}

// Prepare returns an index-owned copy of vec, normalized when the metric
// is cosine.
func Prepare(m Metric, vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	if m == Cosine {
		mathvec.NormalizeInPlace(out)
	}
	return out
}

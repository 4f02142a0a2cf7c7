// Package vector provides the vector math kernels used by the vector index.
//
// Main Functions:
//   - DotProduct: BLAS dot product (gonum, SIMD dispatched internally)
//   - CosineSimilarity: similarity for arbitrary (unnormalized) vectors
//   - SquaredEuclidean / Euclidean: distance between two vectors
//   - Normalize: returns a unit-length copy
//   - NormalizeInPlace: normalizes in place (modifies input)
//   - Kernel: describes the kernel selected for this CPU
package vector

import (
	"math"

	"github.com/klauspost/cpuid/v2"
	"gonum.org/v1/gonum/blas/gonum"
)

var blas = gonum.Implementation{}

// Kernel describes the dot product implementation in use, for stats and
// startup logs.
func Kernel() string {
	switch {
	case cpuid.CPU.Has(cpuid.AVX2) && cpuid.CPU.Has(cpuid.FMA3):
		return "gonum-sdot (avx2+fma)"
	case cpuid.CPU.Has(cpuid.AVX):
		return "gonum-sdot (avx)"
	case cpuid.CPU.Has(cpuid.ASIMD):
		return "gonum-sdot (neon)"
	default:
		return "gonum-sdot (generic)"
	}
}

// DotProduct calculates the dot product of two float32 vectors.
// Returns 0 when the lengths differ.
//
// For normalized vectors, dot product equals cosine similarity.
//
// Example:
//
//	a := []float32{1.0, 2.0, 3.0}
//	b := []float32{4.0, 5.0, 6.0}
//	dot := DotProduct(a, b)  // Returns 32.0
func DotProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return float64(blas.Sdot(len(a), a, 1, b, 1))
}

// CosineSimilarity calculates cosine similarity between two float32 vectors.
// Returns value in range [-1, 1] where 1 = identical, 0 = orthogonal, -1 = opposite.
// Zero vectors and mismatched lengths return 0.
//
// Example:
//
//	a := []float32{1.0, 2.0, 3.0}
//	b := []float32{4.0, 5.0, 6.0}
//	sim := CosineSimilarity(a, b)  // Returns 0.9746318461970762
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProd, normA, normB float64
	for i := range a {
		dotProd += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProd / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SquaredEuclidean returns ‖a-b‖². Mismatched lengths return +Inf.
func SquaredEuclidean(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return sum
}

// Euclidean returns ‖a-b‖.
func Euclidean(a, b []float32) float64 {
	return math.Sqrt(SquaredEuclidean(a, b))
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	if len(v) == 0 {
		return 0
	}
	return float64(blas.Snrm2(len(v), v, 1))
}

// Normalize returns a normalized copy of the vector.
// The input vector is not modified. A zero vector yields a zero vector.
//
// Example:
//
//	original := []float32{3.0, 4.0}
//	normalized := Normalize(original)  // Returns [0.6, 0.8]
func Normalize(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	NormalizeInPlace(out)
	return out
}

// NormalizeInPlace normalizes a vector in-place (modifies the input).
// After normalization, the vector has unit length (magnitude = 1).
//
// WARNING: Modifies the input slice. Use Normalize() to preserve original.
func NormalizeInPlace(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= norm
	}
}

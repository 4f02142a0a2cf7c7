package vector

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch matches any *DimensionMismatchError via errors.Is.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrNoSnapshot is returned by Load when no snapshot exists at the path.
	// The caller should start with an empty index and rebuild it.
	ErrNoSnapshot = errors.New("no vector snapshot")

	ErrInvalidConfig = errors.New("invalid vector index config")
	ErrEmptyID       = errors.New("empty vector id")
)

// DimensionMismatchError reports a vector whose length does not match the
// index dimension.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Is lets errors.Is(err, ErrDimensionMismatch) match.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// Package vector provides descriptor indexes for nearest-neighbour search by squared L2 distance.
package vector

import (
	"context"
	"errors"
)

// NoMatch is the position sentinel a backend returns for an unfilled result slot.
const NoMatch int64 = -1

// ErrDimensionMismatch is returned when a vector's length differs from the index dimensionality.
// It is a configuration error: the embedder and the index disagree.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// DescriptorIndex stores fixed-length vectors at sequential positions starting from 0
// and answers k-nearest queries.
type DescriptorIndex interface {
	// Add appends vectors in order. Either every vector is added or none is.
	Add(ctx context.Context, vectors [][]float32) error
	// Search returns up to k matches ordered by ascending squared L2 distance.
	// An empty index yields no matches.
	Search(ctx context.Context, query []float32, k int) ([]Match, error)
	// Reset removes every vector; positions restart at 0.
	Reset(ctx context.Context) error
	Size() int
	Dimensions() int
	Type() string
	Close() error
}

// Match is a single search hit.
type Match struct {
	Distance float64 // squared L2
	Position int64   // insertion position, or NoMatch
}

// SquaredL2 returns the squared Euclidean distance between a and b, which must have equal length.
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

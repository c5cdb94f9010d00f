// Package vectorindex implements the per-conversation flat L2 index and its file format.
package vectorindex

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// FlatIndex is an exhaustive L2 index over fixed-dimension vectors.
// Ids are dense and follow insertion order.
type FlatIndex struct {
	dim  int
	data []float32
}

// New returns an empty index for vectors of the given dimension.
func New(dimension int) *FlatIndex {
	return &FlatIndex{dim: dimension}
}

// Dimension returns the vector length accepted by the index.
func (x *FlatIndex) Dimension() int {
	return x.dim
}

// Size returns the number of stored vectors.
func (x *FlatIndex) Size() int {
	if x.dim <= 0 {
		return 0
	}
	return len(x.data) / x.dim
}

// Add appends vectors in order. Either all vectors are added or none.
func (x *FlatIndex) Add(vectors ...[]float32) error {
	for i, vec := range vectors {
		if err := x.check(vec); err != nil {
			return fmt.Errorf("add vector %d: %w", i, err)
		}
	}
	for _, vec := range vectors {
		x.data = append(x.data, vec...)
	}
	return nil
}

// Vector returns a copy of the stored vector with the given id.
func (x *FlatIndex) Vector(id int) ([]float32, bool) {
	if id < 0 || id >= x.Size() {
		return nil, false
	}
	return slices.Clone(x.data[id*x.dim : (id+1)*x.dim]), true
}

// Search returns up to k nearest neighbours by squared L2 distance, closest first.
func (x *FlatIndex) Search(query []float32, k int) ([]float32, []int) {
	n := x.Size()
	if n == 0 || k <= 0 || len(query) != x.dim {
		return nil, nil
	}

	ids := make([]int, n)
	dists := make([]float32, n)
	for id := range n {
		ids[id] = id
		dists[id] = squaredL2(query, x.data[id*x.dim:(id+1)*x.dim])
	}
	slices.SortStableFunc(ids, func(a, b int) int {
		return cmp.Compare(dists[a], dists[b])
	})

	k = min(k, n)
	outDists := make([]float32, k)
	for i := range k {
		outDists[i] = dists[ids[i]]
	}
	return outDists, ids[:k]
}

// Clone returns a deep copy of the index.
func (x *FlatIndex) Clone() *FlatIndex {
	return &FlatIndex{dim: x.dim, data: slices.Clone(x.data)}
}

func (x *FlatIndex) check(vec []float32) error {
	if len(vec) != x.dim {
		return fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(vec), x.dim)
	}
	for i, v := range vec {
		if !isFinite(v) {
			return fmt.Errorf("invalid value at index %d", i)
		}
	}
	return nil
}

// NormalizeL2 returns a unit-length copy of vec. A zero vector is returned unchanged.
func NormalizeL2(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	out := slices.Clone(vec)
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, v := range out {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// Similarity converts a squared L2 distance between unit vectors into their cosine.
func Similarity(distance float32) float64 {
	return 1 - float64(distance)/2
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func isFinite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Package distance provides the distance kernels and metric plumbing used by
// all backends. Backends always compute in "distance space": smaller values
// are better regardless of the configured metric.
package distance

import (
	"fmt"
	"slices"

	"github.com/chewxy/math32"

	"github.com/vexdb/vexdb/core"
)

// Func computes a distance between two equally sized vectors.
type Func func(a, b []float32) float32

// Dot returns the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredL2 returns the squared Euclidean distance between a and b.
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// L2 returns the Euclidean distance between a and b.
func L2(a, b []float32) float32 {
	return math32.Sqrt(SquaredL2(a, b))
}

// NegDot returns the negated dot product, turning inner-product similarity
// into a distance.
func NegDot(a, b []float32) float32 {
	return -Dot(a, b)
}

// Magnitude returns the L2 norm of v.
func Magnitude(v []float32) float32 {
	return math32.Sqrt(Dot(v, v))
}

// CosineSimilarity returns the cosine similarity of a and b.
// Zero-magnitude inputs yield 0.
func CosineSimilarity(a, b []float32) float32 {
	ma, mb := Magnitude(a), Magnitude(b)
	if ma == 0 || mb == 0 {
		return 0
	}
	return Dot(a, b) / (ma * mb)
}

// CosineDistance returns 1 - cosine similarity.
func CosineDistance(a, b []float32) float32 {
	return 1 - CosineSimilarity(a, b)
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	norm2 := Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := 1 / math32.Sqrt(norm2)
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

// Provider returns the distance function for the given metric.
func Provider(m core.Metric) (Func, error) {
	switch m {
	case core.MetricL2:
		return L2, nil
	case core.MetricInnerProduct:
		return NegDot, nil
	case core.MetricCosine:
		return CosineDistance, nil
	default:
		return nil, fmt.Errorf("%w: unsupported metric %v", core.ErrInvalidConfig, m)
	}
}

// ToScore converts a backend distance to the caller-facing score orientation
// for the given metric.
func ToScore(m core.Metric, dist float32) core.Score {
	if m == core.MetricInnerProduct {
		return -dist
	}
	return dist
}

// ToDistance converts a caller-facing score bound (e.g. a range-search radius)
// into distance space for the given metric.
func ToDistance(m core.Metric, score float32) float32 {
	if m == core.MetricInnerProduct {
		return -score
	}
	return score
}

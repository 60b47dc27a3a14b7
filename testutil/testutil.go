// Package testutil provides deterministic helpers for tests and benchmarks.
package testutil

import (
	"math/rand"
	"sync"

	"github.com/vexdb/vexdb/distance"
)

// RNG is a seeded, thread-safe random number generator.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// NewRNG creates an RNG with the given seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset restores the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = rand.New(rand.NewSource(r.seed))
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns a pseudo-random number in [0,1).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// FillUniform fills dst with random values in [0,1).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// Vector returns a fresh random vector of the given dimension.
func (r *RNG) Vector(dim int) []float32 {
	v := make([]float32, dim)
	r.FillUniform(v)
	return v
}

// Vectors returns n fresh random vectors of the given dimension.
func (r *RNG) Vectors(n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = r.Vector(dim)
	}
	return out
}

// UnitVector returns a random L2-normalized vector.
func (r *RNG) UnitVector(dim int) []float32 {
	for {
		v := r.Vector(dim)
		if distance.NormalizeL2InPlace(v) {
			return v
		}
	}
}

// ExactNearest returns the index of the vector in corpus closest to query
// under dist, scanning linearly. Reference oracle for recall checks.
func ExactNearest(query []float32, corpus [][]float32, dist distance.Func) int {
	best := -1
	var bestDist float32
	for i, v := range corpus {
		d := dist(query, v)
		if best == -1 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

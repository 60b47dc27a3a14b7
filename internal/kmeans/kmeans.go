// Package kmeans implements Lloyd's algorithm for the coarse quantizers used
// by the IVF backends.
package kmeans

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/vexdb/vexdb/distance"
)

// Train learns k centroids from vectors using Lloyd's algorithm.
func Train(vectors [][]float32, k, maxIter int, dist distance.Func, rng *rand.Rand) ([][]float32, error) {
	n := len(vectors)
	if n < k {
		return nil, fmt.Errorf("kmeans: %d vectors cannot seed %d clusters", n, k)
	}
	if k <= 0 {
		return nil, fmt.Errorf("kmeans: k must be positive")
	}
	dim := len(vectors[0])

	centroids := make([][]float32, k)
	for i, p := range rng.Perm(n)[:k] {
		centroids[i] = append([]float32(nil), vectors[p]...)
	}

	assignments := make([]int, n)
	counts := make([]int, k)
	sums := make([][]float32, k)
	for i := range sums {
		sums[i] = make([]float32, dim)
	}

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, vec := range vectors {
			best := Assign(vec, centroids, dist)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		for j := range sums {
			counts[j] = 0
			for d := range sums[j] {
				sums[j][d] = 0
			}
		}
		for i, vec := range vectors {
			j := assignments[i]
			counts[j]++
			for d, v := range vec {
				sums[j][d] += v
			}
		}
		for j := range centroids {
			if counts[j] == 0 {
				// Reseed empty clusters from a random point.
				copy(centroids[j], vectors[rng.Intn(n)])
				continue
			}
			scale := 1 / float32(counts[j])
			for d := range centroids[j] {
				centroids[j][d] = sums[j][d] * scale
			}
		}
	}

	return centroids, nil
}

// Assign returns the index of the centroid closest to vec.
func Assign(vec []float32, centroids [][]float32, dist distance.Func) int {
	best := -1
	minDist := float32(math.MaxFloat32)
	for j, c := range centroids {
		if d := dist(vec, c); d < minDist {
			minDist = d
			best = j
		}
	}
	return best
}

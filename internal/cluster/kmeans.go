// Package cluster partitions conversation embeddings and measures the
// resulting clusters.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"

	"gonum.org/v1/gonum/floats"
)

const DefaultMaxClusters = 24

var ErrNoRows = errors.New("no rows to cluster")

// ChooseK picks ceil(sqrt(n)) clusters, capped at maxK.
func ChooseK(n, maxK int) (int, error) {
	if n <= 0 {
		return 0, ErrNoRows
	}
	k := int(math.Ceil(math.Sqrt(float64(n))))
	if maxK > 0 && k > maxK {
		k = maxK
	}
	return k, nil
}

// SolutionID names a clustering solution for k clusters.
func SolutionID(k int) string {
	return "kmeans_" + strconv.Itoa(k)
}

// ID formats label as a cluster id zero-padded to the width of k-1.
func ID(label, k int) string {
	width := len(strconv.Itoa(max(k-1, 0)))
	return fmt.Sprintf("cluster_%0*d", width, label)
}

// Partitioner assigns one cluster id to every input vector.
type Partitioner interface {
	Partition(ctx context.Context, vectors [][]float32, k int) ([]string, error)
}

// KMeans is mini-batch k-means with k-means++ seeding. A fixed Seed makes
// partitions reproducible.
type KMeans struct {
	Seed      int64
	MaxIter   int
	BatchSize int
	// Tol stops iteration early once no center moves further than this.
	Tol float64
}

func NewKMeans(seed int64) KMeans {
	return KMeans{Seed: seed, MaxIter: 100, BatchSize: 1024, Tol: 1e-6}
}

func (km KMeans) Partition(ctx context.Context, vectors [][]float32, k int) ([]string, error) {
	n := len(vectors)
	if n == 0 {
		return nil, ErrNoRows
	}
	if k < 1 {
		return nil, fmt.Errorf("invalid cluster count %d", k)
	}
	data, err := toFloat64(vectors)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(km.Seed))
	centers := seedCenters(data, min(k, n), rng)
	counts := make([]float64, len(centers))

	batch := km.BatchSize
	if batch <= 0 || batch > n {
		batch = n
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	assign := make([]int, batch)
	prev := make([]float64, len(data[0]))

	for iter := 0; iter < km.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sample := indices
		if batch < n {
			rng.Shuffle(n, func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
			sample = indices[:batch]
		}
		for bi, idx := range sample {
			assign[bi] = nearest(centers, data[idx])
		}

		shift := 0.0
		for bi, idx := range sample {
			c := assign[bi]
			copy(prev, centers[c])
			counts[c]++
			eta := 1 / counts[c]
			floats.Scale(1-eta, centers[c])
			floats.AddScaled(centers[c], eta, data[idx])
			shift = math.Max(shift, floats.Distance(prev, centers[c], 2))
		}
		if shift <= km.Tol {
			break
		}
	}

	labels := make([]string, n)
	for i, x := range data {
		labels[i] = ID(nearest(centers, x), k)
	}
	return labels, nil
}

// seedCenters runs k-means++: the first center is uniform, each further one
// is drawn with probability proportional to squared distance from the
// nearest chosen center.
func seedCenters(data [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(data)
	centers := make([][]float64, 0, k)
	centers = append(centers, clone(data[rng.Intn(n)]))

	d2 := make([]float64, n)
	for i, x := range data {
		d2[i] = sqDist(x, centers[0])
	}
	for len(centers) < k {
		total := floats.Sum(d2)
		next := 0
		if total == 0 {
			// All remaining points coincide with chosen centers.
			next = rng.Intn(n)
		} else {
			target := rng.Float64() * total
			acc := 0.0
			for i, d := range d2 {
				if d == 0 {
					continue
				}
				next = i
				acc += d
				if acc >= target {
					break
				}
			}
		}
		c := clone(data[next])
		centers = append(centers, c)
		for i, x := range data {
			d2[i] = math.Min(d2[i], sqDist(x, c))
		}
	}
	return centers
}

func nearest(centers [][]float64, x []float64) int {
	best, bestD := 0, math.Inf(1)
	for c, center := range centers {
		if d := sqDist(x, center); d < bestD {
			best, bestD = c, d
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

func toFloat64(vectors [][]float32) ([][]float64, error) {
	dim := len(vectors[0])
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim)
		}
		row := make([]float64, dim)
		for j, f := range v {
			row[j] = float64(f)
		}
		out[i] = row
	}
	return out, nil
}

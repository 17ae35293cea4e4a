// Package projection lays high-dimensional embeddings out in two dimensions.
package projection

import (
	"context"
	"fmt"
	"math"
	"math/rand"
)

// Projector maps every input vector to a 2-D point. Implementations keep no
// fitted state between calls.
type Projector interface {
	Project(ctx context.Context, vectors [][]float32) ([][2]float64, error)
}

// UMAP builds a fuzzy k-nearest-neighbour graph under cosine distance and
// optimizes a 2-D layout that preserves it.
type UMAP struct {
	Neighbors int
	MinDist   float64
	Spread    float64
	Epochs    int
	// NegativeSamples is the number of repulsive samples per attractive edge.
	NegativeSamples int
	Seed            int64
}

func NewUMAP(seed int64) UMAP {
	return UMAP{
		Neighbors:       15,
		MinDist:         0.1,
		Spread:          1.0,
		Epochs:          200,
		NegativeSamples: 5,
		Seed:            seed,
	}
}

func (u UMAP) Project(ctx context.Context, vectors [][]float32) ([][2]float64, error) {
	n := len(vectors)
	switch n {
	case 0:
		return [][2]float64{}, nil
	case 1:
		return [][2]float64{{0, 0}}, nil
	case 2:
		return [][2]float64{{-1, 0}, {1, 0}}, nil
	}

	data, err := unitRows(vectors)
	if err != nil {
		return nil, err
	}

	k := min(max(u.Neighbors, 2), n-1)
	knn := nearestNeighbors(data, k)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	graph := fuzzyGraph(knn, k)

	rng := rand.New(rand.NewSource(u.Seed))
	layout := initialLayout(data, rng)
	a, b := fitCurve(u.Spread, u.MinDist)

	epochs := u.Epochs
	if epochs <= 0 {
		epochs = 200
	}
	if err := optimize(ctx, layout, graph, a, b, epochs, u.NegativeSamples, rng); err != nil {
		return nil, err
	}

	out := make([][2]float64, n)
	for i, p := range layout {
		out[i] = [2]float64{p[0], p[1]}
	}
	return out, nil
}

// unitRows widens vectors to float64 and scales each to unit length so that
// cosine distance is 1 minus the dot product. Zero vectors stay zero.
func unitRows(vectors [][]float32) ([][]float64, error) {
	dim := len(vectors[0])
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim)
		}
		row := make([]float64, dim)
		var norm float64
		for j, f := range v {
			row[j] = float64(f)
			norm += row[j] * row[j]
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for j := range row {
				row[j] /= norm
			}
		}
		out[i] = row
	}
	return out, nil
}

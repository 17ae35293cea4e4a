package projection

import (
	"context"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const initScale = 10.0

// initialLayout places points on their first two principal components,
// rescaled to [-10, 10]. Inputs with no usable variance start from a seeded
// uniform scatter instead.
func initialLayout(data [][]float64, rng *rand.Rand) [][2]float64 {
	layout := make([][2]float64, len(data))

	if pcaLayout(data, layout) {
		for i := range layout {
			layout[i][0] += rng.NormFloat64() * 1e-4
			layout[i][1] += rng.NormFloat64() * 1e-4
		}
		return layout
	}
	for i := range layout {
		layout[i] = [2]float64{
			(rng.Float64()*2 - 1) * initScale,
			(rng.Float64()*2 - 1) * initScale,
		}
	}
	return layout
}

func pcaLayout(data [][]float64, layout [][2]float64) bool {
	n, dim := len(data), len(data[0])
	if dim < 2 {
		return false
	}
	x := mat.NewDense(n, dim, nil)
	for i, row := range data {
		x.SetRow(i, row)
	}

	var pc stat.PC
	if !pc.PrincipalComponents(x, nil) {
		return false
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	if _, c := vecs.Dims(); c < 2 {
		return false
	}

	var proj mat.Dense
	proj.Mul(x, vecs.Slice(0, dim, 0, 2))

	var mean [2]float64
	for i := range n {
		mean[0] += proj.At(i, 0)
		mean[1] += proj.At(i, 1)
	}
	mean[0] /= float64(n)
	mean[1] /= float64(n)

	var extent float64
	for i := range n {
		layout[i] = [2]float64{proj.At(i, 0) - mean[0], proj.At(i, 1) - mean[1]}
		extent = math.Max(extent, math.Max(math.Abs(layout[i][0]), math.Abs(layout[i][1])))
	}
	if extent < 1e-12 {
		return false
	}
	for i := range layout {
		layout[i][0] *= initScale / extent
		layout[i][1] *= initScale / extent
	}
	return true
}

// fitCurve finds a and b such that 1/(1+a*d^(2b)) approximates the target
// similarity: 1 up to minDist, then exp(-(d-minDist)/spread). A coarse grid
// is refined twice around its best point.
func fitCurve(spread, minDist float64) (a, b float64) {
	if spread <= 0 {
		spread = 1
	}
	const samples = 300
	xs := make([]float64, samples)
	ys := make([]float64, samples)
	for i := range samples {
		x := 3 * spread * float64(i+1) / samples
		xs[i] = x
		if x < minDist {
			ys[i] = 1
		} else {
			ys[i] = math.Exp(-(x - minDist) / spread)
		}
	}
	loss := func(a, b float64) float64 {
		var s float64
		for i, x := range xs {
			d := 1/(1+a*math.Pow(x, 2*b)) - ys[i]
			s += d * d
		}
		return s
	}

	aLo, aHi, bLo, bHi := 0.01, 10.0, 0.1, 2.0
	bestLoss := math.Inf(1)
	for range 3 {
		const steps = 40
		for i := 0; i <= steps; i++ {
			ca := aLo + (aHi-aLo)*float64(i)/steps
			for j := 0; j <= steps; j++ {
				cb := bLo + (bHi-bLo)*float64(j)/steps
				if l := loss(ca, cb); l < bestLoss {
					bestLoss, a, b = l, ca, cb
				}
			}
		}
		da, db := (aHi-aLo)/steps, (bHi-bLo)/steps
		aLo, aHi = math.Max(0.001, a-2*da), a+2*da
		bLo, bHi = math.Max(0.01, b-2*db), b+2*db
	}
	return a, b
}

func clip(g float64) float64 {
	return math.Max(-4, math.Min(4, g))
}

func dist2(p, q [2]float64) float64 {
	dx, dy := p[0]-q[0], p[1]-q[1]
	return dx*dx + dy*dy
}

// optimize runs stochastic gradient descent over the layout. Each edge is
// sampled in proportion to its weight; every sample pulls its endpoints
// together and pushes the head away from randomly chosen points.
func optimize(ctx context.Context, layout [][2]float64, edges []edge, a, b float64, epochs, negative int, rng *rand.Rand) error {
	if len(edges) == 0 {
		return nil
	}
	var maxW float64
	for _, e := range edges {
		maxW = math.Max(maxW, e.weight)
	}
	every := make([]float64, len(edges))
	next := make([]float64, len(edges))
	for i, e := range edges {
		if e.weight*float64(epochs)/maxW < 1 {
			every[i] = -1
			continue
		}
		every[i] = maxW / e.weight
		next[i] = every[i]
	}

	n := len(layout)
	for epoch := 1; epoch <= epochs; epoch++ {
		if epoch%10 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		alpha := 1 - float64(epoch-1)/float64(epochs)
		for i, e := range edges {
			if every[i] < 0 || next[i] > float64(epoch) {
				continue
			}
			head, tail := &layout[e.head], &layout[e.tail]

			if d2 := dist2(*head, *tail); d2 > 0 {
				coeff := -2 * a * b * math.Pow(d2, b-1) / (1 + a*math.Pow(d2, b))
				for dd := range 2 {
					g := clip(coeff*(head[dd]-tail[dd])) * alpha
					head[dd] += g
					tail[dd] -= g
				}
			}
			next[i] += every[i]

			for range negative {
				k := rng.Intn(n)
				if k == e.head {
					continue
				}
				other := layout[k]
				d2 := dist2(*head, other)
				for dd := range 2 {
					g := 4.0
					if d2 > 0 {
						coeff := 2 * b / ((0.001 + d2) * (1 + a*math.Pow(d2, b)))
						g = clip(coeff * (head[dd] - other[dd]))
					}
					head[dd] += g * alpha
				}
			}
		}
	}
	return nil
}

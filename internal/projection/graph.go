package projection

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

const gramBlock = 256

type neighbor struct {
	index int
	dist  float64
}

// nearestNeighbors returns the k closest other rows of each unit-length row
// by cosine distance, nearest first. Similarities are computed a block of
// rows at a time to bound memory.
func nearestNeighbors(data [][]float64, k int) [][]neighbor {
	n, dim := len(data), len(data[0])
	out := make([][]neighbor, n)
	if dim == 0 {
		for i := range out {
			for j := 0; len(out[i]) < k && j < n; j++ {
				if j != i {
					out[i] = append(out[i], neighbor{index: j, dist: 1})
				}
			}
		}
		return out
	}

	all := mat.NewDense(n, dim, nil)
	for i, row := range data {
		all.SetRow(i, row)
	}
	var gram mat.Dense
	for start := 0; start < n; start += gramBlock {
		end := min(start+gramBlock, n)
		gram.Reset()
		gram.Mul(all.Slice(start, end, 0, dim), all.T())
		for i := start; i < end; i++ {
			best := make([]neighbor, 0, k+1)
			for j := 0; j < n; j++ {
				if j == i {
					continue
				}
				d := math.Max(0, 1-gram.At(i-start, j))
				if len(best) == k && d >= best[k-1].dist {
					continue
				}
				pos := sort.Search(len(best), func(p int) bool { return best[p].dist > d })
				best = append(best, neighbor{})
				copy(best[pos+1:], best[pos:])
				best[pos] = neighbor{index: j, dist: d}
				if len(best) > k {
					best = best[:k]
				}
			}
			out[i] = best
		}
	}
	return out
}

type edge struct {
	head, tail int
	weight     float64
}

// fuzzyGraph turns neighbour distances into membership strengths, scaled per
// point so the strengths sum to log2(k), and merges the two directions of
// each pair with a fuzzy union.
func fuzzyGraph(knn [][]neighbor, k int) []edge {
	target := math.Log2(float64(k))
	directed := make(map[[2]int]float64)

	var meanDist float64
	var count int
	for _, nbrs := range knn {
		for _, nb := range nbrs {
			meanDist += nb.dist
			count++
		}
	}
	if count > 0 {
		meanDist /= float64(count)
	}

	for i, nbrs := range knn {
		rho := 0.0
		for _, nb := range nbrs {
			if nb.dist > 0 {
				rho = nb.dist
				break
			}
		}
		sigma := smoothSigma(nbrs, rho, target)
		if floor := 1e-3 * meanDist; sigma < floor {
			sigma = floor
		}
		for _, nb := range nbrs {
			w := 1.0
			if d := nb.dist - rho; d > 0 && sigma > 0 {
				w = math.Exp(-d / sigma)
			}
			directed[[2]int{i, nb.index}] = w
		}
	}

	seen := make(map[[2]int]bool, len(directed))
	edges := make([]edge, 0, len(directed))
	for i, nbrs := range knn {
		for _, nb := range nbrs {
			key := [2]int{min(i, nb.index), max(i, nb.index)}
			if seen[key] {
				continue
			}
			seen[key] = true
			a := directed[[2]int{key[0], key[1]}]
			b := directed[[2]int{key[1], key[0]}]
			if w := a + b - a*b; w > 0 {
				edges = append(edges, edge{head: key[0], tail: key[1], weight: w})
			}
		}
	}
	return edges
}

// smoothSigma binary-searches the bandwidth at which the neighbour
// strengths of one point sum to target.
func smoothSigma(nbrs []neighbor, rho, target float64) float64 {
	lo, hi, mid := 0.0, math.Inf(1), 1.0
	for range 64 {
		var psum float64
		for _, nb := range nbrs {
			if d := nb.dist - rho; d > 0 {
				psum += math.Exp(-d / mid)
			} else {
				psum++
			}
		}
		if math.Abs(psum-target) < 1e-5 {
			break
		}
		if psum > target {
			hi = mid
			mid = (lo + hi) / 2
		} else {
			lo = mid
			if math.IsInf(hi, 1) {
				mid *= 2
			} else {
				mid = (lo + hi) / 2
			}
		}
	}
	return mid
}

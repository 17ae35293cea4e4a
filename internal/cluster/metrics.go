package cluster

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultCentroidDocs = 8
	DefaultMaxTags      = 15
)

// Member is one clustered conversation.
type Member struct {
	ID        string
	ClusterID string
	Embedding []float32
	Tags      []string
}

type Options struct {
	CentroidDocs int
	MaxTags      int
}

// Metrics describes one cluster of a solution.
type Metrics struct {
	ClusterID            string
	MemberIDs            []string
	CentroidIDs          []string
	Centroid             []float32
	Size                 int
	TagCounts            TagCounts
	MeanCosineSimilarity float64
	Radius               float64
	Silhouette           float64
}

// ComputeMetrics measures every cluster present in members. The silhouette
// is computed over all members and all labels, then averaged per cluster.
// Output is sorted by cluster id.
func ComputeMetrics(members []Member, opts Options) []Metrics {
	if len(members) == 0 {
		return nil
	}
	if opts.CentroidDocs <= 0 {
		opts.CentroidDocs = DefaultCentroidDocs
	}
	if opts.MaxTags <= 0 {
		opts.MaxTags = DefaultMaxTags
	}

	vectors := make([][]float64, len(members))
	labels := make([]string, len(members))
	for i, m := range members {
		vectors[i] = widen(m.Embedding)
		labels[i] = m.ClusterID
	}
	silhouettes := Silhouette(vectors, labels)

	var order []string
	groups := make(map[string][]int)
	for i, m := range members {
		if _, ok := groups[m.ClusterID]; !ok {
			order = append(order, m.ClusterID)
		}
		groups[m.ClusterID] = append(groups[m.ClusterID], i)
	}
	sort.Strings(order)

	out := make([]Metrics, 0, len(order))
	for _, id := range order {
		out = append(out, measure(id, groups[id], members, vectors, silhouettes, opts))
	}
	return out
}

func measure(id string, idx []int, members []Member, vectors [][]float64, silhouettes []float64, opts Options) Metrics {
	dim := len(vectors[idx[0]])
	centroid := make([]float64, dim)
	for _, i := range idx {
		floats.Add(centroid, vectors[i])
	}
	floats.Scale(1/float64(len(idx)), centroid)

	sims := make([]float64, len(idx))
	var radius, silSum float64
	memberIDs := make([]string, len(idx))
	tagLists := make([][]string, len(idx))
	for j, i := range idx {
		sims[j] = CosineSimilarity(vectors[i], centroid)
		radius = math.Max(radius, floats.Distance(vectors[i], centroid, 2))
		silSum += silhouettes[i]
		memberIDs[j] = members[i].ID
		tagLists[j] = members[i].Tags
	}

	ranked := make([]int, len(idx))
	for j := range ranked {
		ranked[j] = j
	}
	sort.SliceStable(ranked, func(a, b int) bool { return sims[ranked[a]] > sims[ranked[b]] })
	top := min(opts.CentroidDocs, len(ranked))
	centroidIDs := make([]string, top)
	for j := 0; j < top; j++ {
		centroidIDs[j] = memberIDs[ranked[j]]
	}

	return Metrics{
		ClusterID:            id,
		MemberIDs:            memberIDs,
		CentroidIDs:          centroidIDs,
		Centroid:             narrow(centroid),
		Size:                 len(idx),
		TagCounts:            CountTags(tagLists, opts.MaxTags),
		MeanCosineSimilarity: clamp(floats.Sum(sims) / float64(len(sims))),
		Radius:               radius,
		Silhouette:           clamp(silSum / float64(len(idx))),
	}
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 if
// either has zero magnitude.
func CosineSimilarity(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return clamp(floats.Dot(a, b) / (na * nb))
}

// silhouetteBlock bounds the rows of the distance matrix held at once.
const silhouetteBlock = 256

// Silhouette returns the silhouette coefficient of every sample under
// Euclidean distance. Members of singleton clusters score 0, as does every
// sample when fewer than two clusters exist.
func Silhouette(vectors [][]float64, labels []string) []float64 {
	n := len(vectors)
	out := make([]float64, n)
	if n == 0 {
		return out
	}

	clusterOf := make([]int, n)
	index := make(map[string]int)
	var sizes []int
	for i, l := range labels {
		c, ok := index[l]
		if !ok {
			c = len(sizes)
			index[l] = c
			sizes = append(sizes, 0)
		}
		clusterOf[i] = c
		sizes[c]++
	}
	dim := len(vectors[0])
	if len(sizes) < 2 || dim == 0 {
		return out
	}

	x := mat.NewDense(n, dim, nil)
	sq := make([]float64, n)
	for i, v := range vectors {
		x.SetRow(i, v)
		sq[i] = floats.Dot(v, v)
	}

	sums := make([]float64, len(sizes))
	for start := 0; start < n; start += silhouetteBlock {
		end := min(start+silhouetteBlock, n)
		var gram mat.Dense
		gram.Mul(x.Slice(start, end, 0, dim), x.T())

		for i := start; i < end; i++ {
			for c := range sums {
				sums[c] = 0
			}
			for j := 0; j < n; j++ {
				if j == i {
					continue
				}
				d2 := sq[i] + sq[j] - 2*gram.At(i-start, j)
				sums[clusterOf[j]] += math.Sqrt(math.Max(d2, 0))
			}

			own := clusterOf[i]
			if sizes[own] < 2 {
				continue
			}
			a := sums[own] / float64(sizes[own]-1)
			b := math.Inf(1)
			for c, s := range sums {
				if c != own {
					b = math.Min(b, s/float64(sizes[c]))
				}
			}
			if m := math.Max(a, b); m > 0 {
				out[i] = clamp((b - a) / m)
			}
		}
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func narrow(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

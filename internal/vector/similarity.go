// Package vector provides similarity helpers and a brute-force index for embeddings.
package vector

import "math"

// InnerProduct returns the inner product of two vectors. Mismatched or empty inputs give 0.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// A zero vector or mismatched lengths give 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := L2Norm(a), L2Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	sim := InnerProduct(a, b) / (na * nb)
	// float rounding can push |sim| just past 1
	return math.Max(-1, math.Min(1, sim))
}

// MaxSimilarity returns the highest cosine similarity between query and any
// vector in set, and its index. An empty set gives (0, -1).
func MaxSimilarity(query []float32, set [][]float32) (float64, int) {
	best, at := math.Inf(-1), -1
	for i, v := range set {
		if s := CosineSimilarity(query, v); s > best {
			best, at = s, i
		}
	}
	if at < 0 {
		return 0, -1
	}
	return best, at
}

// Centroid returns the element-wise mean of vecs. All inputs must share a length;
// nil is returned otherwise or when vecs is empty.
func Centroid(vecs ...[]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	out := make([]float32, dim)
	for _, v := range vecs {
		if len(v) != dim {
			return nil
		}
		for i, x := range v {
			out[i] += x
		}
	}
	n := float32(len(vecs))
	for i := range out {
		out[i] /= n
	}
	return out
}

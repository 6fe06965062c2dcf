// Package vector provides similarity primitives and an in-memory index for embeddings.
package vector

import "math"

const normEpsilon = 1e-12

// L2Normalize scales v in place to unit length. A zero vector stays zero.
func L2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	inv := float32(1 / math.Sqrt(sum+normEpsilon))
	for i := range v {
		v[i] *= inv
	}
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Dot returns the sum of elementwise products over the shared dimension.
func Dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot)
}

// DotRow is Dot against the d-wide row starting at off in the flat matrix m.
func DotRow(m []float32, off int, p []float32) float32 {
	return Dot(m[off:off+len(p)], p)
}

// CosineSimilarity is Dot. Both inputs must already be L2-normalized; no
// renormalization happens here, so unnormalized inputs yield a plain dot product.
func CosineSimilarity(a, b []float32) float32 {
	return Dot(a, b)
}

// MeanOfRows averages n rows of width d stored row-major in m.
func MeanOfRows(m []float32, n, d int) []float32 {
	out := make([]float32, d)
	if n <= 0 {
		return out
	}
	acc := make([]float64, d)
	for r := 0; r < n; r++ {
		row := m[r*d : (r+1)*d]
		for j, v := range row {
			acc[j] += float64(v)
		}
	}
	for j := range out {
		out[j] = float32(acc[j] / float64(n))
	}
	return out
}

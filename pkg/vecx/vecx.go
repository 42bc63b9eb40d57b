// Package vecx provides float32 vector math for embedding comparisons.
package vecx

import "math"

// Dot returns the dot product of a and b, accumulated in float64.
// Mismatched lengths compare over the shorter prefix.
func Dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// Cosine returns the cosine similarity of a and b, or 0 when either
// vector has zero norm.
func Cosine(a, b []float32) float64 {
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return Dot(a, b) / (na * nb)
}

// Normalize returns v scaled to unit length. Zero vectors are returned
// unchanged; the input is never mutated.
func Normalize(v []float32) []float32 {
	n := Norm(v)
	out := make([]float32, len(v))
	if n == 0 {
		copy(out, v)
		return out
	}
	inv := 1 / n
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

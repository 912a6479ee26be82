package embedding

import (
	"math"

	"gonum.org/v1/gonum/blas/blas32"
)

func vec(v []float32) blas32.Vector {
	return blas32.Vector{N: len(v), Data: v, Inc: 1}
}

// Cosine returns the cosine similarity of a and b. The result is NaN when
// either vector has zero norm or the lengths differ; callers treat NaN as no
// match.
func Cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return float32(math.NaN())
	}

	na := blas32.Nrm2(vec(a))
	nb := blas32.Nrm2(vec(b))
	if na == 0 || nb == 0 {
		return float32(math.NaN())
	}
	return blas32.Dot(vec(a), vec(b)) / (na * nb)
}

// Blend returns weight*a + (1-weight)*b. A weight of 0.5 is the elementwise
// mean. Both inputs must have the same length.
func Blend(a, b []float32, weight float32) []float32 {
	if len(a) != len(b) {
		panic("embedding: Blend of vectors with different lengths")
	}
	out := make([]float32, len(a))
	if len(out) == 0 {
		return out
	}
	blas32.Axpy(weight, vec(a), vec(out))
	blas32.Axpy(1-weight, vec(b), vec(out))
	return out
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

package codec

import (
	"math"

	"localmem/internal/engineerr"
)

// SliceVector truncates v to its first m components and re-normalizes the
// prefix to unit L2 norm. Matryoshka-trained embeddings carry most of
// their signal in the leading dimensions, so the truncated prefix is
// itself a usable embedding once renormalized for cosine comparability.
//
// Fails with InvalidArgument if m is 0 or larger than len(v). If the
// prefix norm is exactly 0, the zero prefix is returned unchanged.
func SliceVector(v []float32, m int) ([]float32, error) {
	if m == 0 {
		return nil, engineerr.New(engineerr.InvalidArgument, "slice_vector: m must be greater than zero")
	}
	if m > len(v) {
		return nil, engineerr.New(engineerr.InvalidArgument, "slice_vector: m exceeds vector length")
	}

	out := make([]float32, m)
	copy(out, v[:m])

	var sumSquares float64
	for _, x := range out {
		sumSquares += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSquares)
	if norm == 0 {
		return out, nil
	}
	invNorm := float32(1.0 / norm)
	for i := range out {
		out[i] *= invNorm
	}
	return out, nil
}

// MatryoshkaDim returns floor(d/3), the canonical Stage-2 prefix length.
func MatryoshkaDim(d int) int {
	return d / 3
}

// Package simdkernel implements the funnel's two similarity primitives:
// Hamming distance over packed-bit vectors (Stage 1) and cosine distance
// over float32 vectors (Stage 2/3). Hamming has a scalar reference
// implementation alongside an accelerated word-at-a-time path, and tests
// assert the two agree on random inputs across a range of sizes. Cosine
// has a single 8-way-unrolled implementation.
package simdkernel

import (
	"encoding/binary"
	"math/bits"

	"localmem/internal/engineerr"
)

// HammingDistance returns the number of differing bits between two
// equal-length packed-bit buffers (the population count of their XOR).
// Fails with InvalidArgument on length mismatch.
func HammingDistance(a, b []byte) (int, error) {
	if len(a) != len(b) {
		return 0, engineerr.New(engineerr.InvalidArgument, "hamming_distance: length mismatch")
	}
	return hammingFast(a, b), nil
}

// hammingScalar is the byte-at-a-time reference oracle: no word-level
// tricks, used by tests to validate hammingFast.
func hammingScalar(a, b []byte) int {
	dist := 0
	for i := range a {
		x := a[i] ^ b[i]
		for x != 0 {
			dist++
			x &= x - 1
		}
	}
	return dist
}

// hammingFast processes 8 bytes at a time via math/bits.OnesCount64, which
// the compiler lowers to a hardware POPCNT/CNT instruction on amd64/arm64 —
// the portable-Go analogue of the teacher's hand-written AVX2/NEON dot
// product, without needing target-specific assembly.
func hammingFast(a, b []byte) int {
	n := len(a)
	dist := 0
	i := 0
	for ; i+8 <= n; i += 8 {
		wa := binary.LittleEndian.Uint64(a[i : i+8])
		wb := binary.LittleEndian.Uint64(b[i : i+8])
		dist += bits.OnesCount64(wa ^ wb)
	}
	for ; i < n; i++ {
		dist += bits.OnesCount8(a[i] ^ b[i])
	}
	return dist
}

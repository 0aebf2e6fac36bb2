//go:build amd64

package simdkernel

import "golang.org/x/sys/cpu"

// Capability returns a human-readable description of the active
// acceleration path. Used for startup diagnostics only — it never gates
// correctness, since hammingFast and the unrolled cosine helpers
// (dotProduct, vectorNorm) are portable Go that runs the same regardless
// of what the hardware actually offers.
func Capability() string {
	if cpu.X86.HasAVX2 {
		return "POPCNT/FMA-class word path (amd64, AVX2 present)"
	}
	return "POPCNT-class word path (amd64)"
}

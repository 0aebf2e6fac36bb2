//go:build arm64

package simdkernel

// Capability returns a human-readable description of the active
// acceleration path. Used for startup diagnostics only.
func Capability() string {
	return "CNT-class word path (arm64)"
}

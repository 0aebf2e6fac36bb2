package store

import (
	"encoding/binary"
	"math"
)

// encodeFloats packs a float32 slice into little-endian bytes, 4 bytes per
// component — the on-disk format for vec_full_docs.embedding and
// vec_short_docs.embedding.
func encodeFloats(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// decodeFloats is the inverse of encodeFloats.
func decodeFloats(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

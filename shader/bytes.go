package shader

import (
	"encoding/binary"
	"math"
)

func exp64(x float64) float64 { return math.Exp(x) }

func putf32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

// F32Bytes encodes floats as little-endian IEEE 754 bytes, the wire
// form of shader variable data.
func F32Bytes(vals ...float32) []byte {
	return f32bytes(vals...)
}

// I32Bytes encodes ints as little-endian 32-bit values.
func I32Bytes(vals ...int32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], uint32(v))
	}
	return out
}

// Package hashutil provides the FNV-1a based hashing used for shader
// signatures and parameter hashes.
package hashutil

import "math"

const (
	fnvOffset uint64 = 14695981039346656037
	fnvPrime  uint64 = 1099511628211
)

// Hash is an incremental 64-bit FNV-1a hash.
type Hash uint64

// New returns a hash initialized to the FNV offset basis.
func New() Hash { return Hash(fnvOffset) }

// WriteBytes mixes raw bytes into the hash.
func (h *Hash) WriteBytes(b []byte) {
	x := uint64(*h)
	for _, c := range b {
		x = (x ^ uint64(c)) * fnvPrime
	}
	*h = Hash(x)
}

// WriteString mixes a string into the hash, including its length so
// that consecutive strings cannot alias.
func (h *Hash) WriteString(s string) {
	h.WriteUint64(uint64(len(s)))
	x := uint64(*h)
	for i := 0; i < len(s); i++ {
		x = (x ^ uint64(s[i])) * fnvPrime
	}
	*h = Hash(x)
}

// WriteUint64 mixes a 64-bit value into the hash, little endian.
func (h *Hash) WriteUint64(v uint64) {
	x := uint64(*h)
	for i := 0; i < 8; i++ {
		x = (x ^ (v & 0xff)) * fnvPrime
		v >>= 8
	}
	*h = Hash(x)
}

// WriteInt mixes an int into the hash.
func (h *Hash) WriteInt(v int) { h.WriteUint64(uint64(int64(v))) }

// WriteBool mixes a bool into the hash.
func (h *Hash) WriteBool(v bool) {
	if v {
		h.WriteUint64(1)
	} else {
		h.WriteUint64(0)
	}
}

// WriteFloat32 mixes a float's bit pattern into the hash.
func (h *Hash) WriteFloat32(v float32) { h.WriteUint64(uint64(math.Float32bits(v))) }

// WriteFloat64 mixes a float's bit pattern into the hash.
func (h *Hash) WriteFloat64(v float64) { h.WriteUint64(math.Float64bits(v)) }

// Sum returns the current hash value.
func (h Hash) Sum() uint64 { return uint64(h) }

// Merge folds hash b into *a order-dependently. Based on the
// boost::hash_combine mixing constant.
func Merge(a *uint64, b uint64) {
	*a ^= b + 0x9e3779b97f4a7c15 + (*a << 6) + (*a >> 2)
}

// Package bytesutil holds the byte-slice conversions the protocol's
// hashing and signing paths lean on: little-endian integer encoding for
// seeds and signing roots, fixed-width array conversions for roots and
// fork versions, and display truncation for logs.
package bytesutil

import "encoding/binary"

// ToBytes returns the little-endian encoding of x truncated to n bytes.
// The protocol's int_to_bytes always encodes little-endian.
func ToBytes(x uint64, n int) []byte {
	if n > 8 {
		n = 8
	}
	enc := make([]byte, 8)
	binary.LittleEndian.PutUint64(enc, x)
	return enc[:n]
}

// Bytes8 returns the 8-byte little-endian encoding of x, the width every
// slot, epoch, and index is hashed at.
func Bytes8(x uint64) []byte {
	return ToBytes(x, 8)
}

// ToBytes4 copies the first 4 bytes of x into a fixed array, zero-padding
// short input. Used for fork versions.
func ToBytes4(x []byte) [4]byte {
	var y [4]byte
	copy(y[:], x)
	return y
}

// ToBytes32 copies the first 32 bytes of x into a fixed array,
// zero-padding short input. Used for roots.
func ToBytes32(x []byte) [32]byte {
	var y [32]byte
	copy(y[:], x)
	return y
}

// Trunc truncates a byte slice to its first 6 bytes for log display.
func Trunc(x []byte) []byte {
	if len(x) > 6 {
		return x[:6]
	}
	return x
}

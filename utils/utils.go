package utils

import "unsafe"

///////////////////////////////////////////////////////////////////////////////
// Alignment
///////////////////////////////////////////////////////////////////////////////

// AlignUp rounds n up to the next multiple of align.
// align must be a power of two.
//
//go:nosplit
//go:inline
func AlignUp(n, align uint32) uint32 {
	return (n + align - 1) &^ (align - 1)
}

// AlignUpInt is AlignUp for int-sized lengths.
//
//go:nosplit
//go:inline
func AlignUpInt(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

///////////////////////////////////////////////////////////////////////////////
// Little-endian loads/stores for the save-state codec
///////////////////////////////////////////////////////////////////////////////

// Load64 reads 8 bytes little-endian.
//
//go:nosplit
//go:inline
func Load64(b []byte) uint64 {
	_ = b[7]
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

// Store64 writes v into b little-endian.
//
//go:nosplit
//go:inline
func Store64(b []byte, v uint64) {
	_ = b[7]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}

///////////////////////////////////////////////////////////////////////////////
// Conversion Utilities - Zero-Alloc Casts
///////////////////////////////////////////////////////////////////////////////

// B2s converts a []byte to a string **without** allocation.
// ⚠️ Caller must ensure the input slice remains valid and unchanged.
//
//go:nosplit
//go:inline
func B2s(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// Itoa formats a non-negative-or-negative int without fmt.
func Itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	u := uint64(n)
	if neg {
		u = uint64(-n)
	}
	for u > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

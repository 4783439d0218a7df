//go:build !unix

package pal

import (
	"fmt"
	"unsafe"
)

// pageAlignment mirrors the core's PageAlignment constant without
// importing the txn package (which would create an import cycle).
// Nothing checks at build time that the two values are equal.
const pageAlignment = 4096

// AllocateAligned returns a zeroed buffer of exactly size bytes,
// aligned to pageAlignment. Non-unix platforms (windows, js/wasm)
// lack a convenient anonymous-mmap primitive in golang.org/x/sys, so
// this portable fallback over-allocates and slices to the first
// aligned offset — the standard technique for aligned buffers without
// OS-specific allocation calls.
func AllocateAligned(size int) (*AlignedBuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pal: allocate aligned: size must be positive, got %d", size)
	}
	raw := make([]byte, size+pageAlignment)
	addr := uintptr(unsafe.Pointer(&raw[0]))
	offset := (pageAlignment - int(addr%pageAlignment)) % pageAlignment
	buf := &AlignedBuffer{bytes: raw[offset : offset+size : offset+size]}
	buf.free = func() error { return nil }
	return buf, nil
}

//go:build unix

package pal

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// AllocateAligned returns a zeroed buffer of exactly size bytes,
// aligned to at least the system page size (which is never smaller
// than PageAlignment on any platform this module targets). It is
// backed by an anonymous mmap rather than a bump allocator: the OS
// guarantees page alignment for free, the same technique several
// embedded engines in the reference corpus use for scratch page
// buffers instead of hand-rolled aligned_alloc equivalents.
func AllocateAligned(size int) (*AlignedBuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pal: allocate aligned: size must be positive, got %d", size)
	}
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("pal: allocate aligned (%d bytes): %w", size, err)
	}
	buf := &AlignedBuffer{bytes: region}
	buf.free = func() error {
		return unix.Munmap(region)
	}
	return buf, nil
}

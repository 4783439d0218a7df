package pal

import (
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// realMapping wraps an edsrzf/mmap-go mapping over a real file.
type realMapping struct {
	region mmap.MMap
}

func (m *realMapping) Bytes() []byte { return m.region }
func (m *realMapping) Unmap() error  { return m.region.Unmap() }

// memMapping is the in-memory stand-in used for :memory: databases,
// where there is no file descriptor to mmap. It re-reads the MemFile's
// current backing slice on every call instead of caching one, so
// commits made after Map was called remain visible — matching the
// coherency a real MAP_SHARED mapping gives callers of Map over a
// regular file once pages_write lands on disk.
type memMapping struct {
	file *MemFile
	size int
}

func (m *memMapping) Bytes() []byte { return m.file.View(m.size) }
func (m *memMapping) Unmap() error  { return nil }

// Map returns a read-only view of the first size bytes of the file.
// The core never writes through this view — writes go through WriteAt
// during commit, exactly as spec.md §4.2 requires.
func (h *Handle) Map(size int64) (Mapping, error) {
	switch f := h.file.(type) {
	case *os.File:
		region, err := mmap.MapRegion(f, int(size), mmap.RDONLY, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("pal: map %q (%d bytes): %w", h.path, size, err)
		}
		return &realMapping{region: region}, nil
	case *MemFile:
		return &memMapping{file: f, size: int(size)}, nil
	default:
		return nil, fmt.Errorf("pal: map %q: unsupported backing type %T", h.path, f)
	}
}

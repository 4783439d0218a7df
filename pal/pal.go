// Package pal is the platform abstraction layer the core consumes:
// file open/size/map/unmap, positional writes, and an aligned-buffer
// allocator. Nothing in pal knows about pages, transactions, or the
// modified-page table — it is a small, boring I/O seam, adapted from
// the teacher's storage.StorageFile / storage.Pager file-handling code
// and storage.fileLock.
package pal

import (
	"fmt"
	"os"
)

// backing is the minimal file contract pal needs from either a real
// os.File or an in-memory stand-in (MemFile).
type backing interface {
	ReadAt(b []byte, off int64) (int, error)
	WriteAt(b []byte, off int64) (int, error)
	Sync() error
	Close() error
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
}

// Mapping is a read-only view of a file's contents, backed either by a
// real memory mapping or, for in-memory databases, a plain byte slice.
type Mapping interface {
	// Bytes returns the mapped region. The byte at offset
	// pageNum*PageSize is the first byte of that page, matching the
	// contract pages_get relies on.
	Bytes() []byte
	Unmap() error
}

// Handle is an open database file plus its current exclusive-writer
// lock (when opened read-write). Mappings returned by Map are owned by
// the caller, not tracked by the Handle.
type Handle struct {
	file     backing
	lock     *fileLock
	path     string
	readOnly bool
}

// Open opens (or creates, unless readOnly) the file at path and takes
// the inter-process exclusive-writer lock when opened for writing.
// Concurrent writers across processes are rejected here rather than
// left to corrupt the file, per spec.md §5's "implementer must ensure
// commits do not overlap".
func Open(path string, readOnly bool) (*Handle, error) {
	var lock *fileLock
	if !readOnly {
		l, err := lockFile(path)
		if err != nil {
			return nil, err
		}
		lock = l
	}

	flags := os.O_RDWR | os.O_CREATE
	if readOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if lock != nil {
			lock.unlock()
		}
		return nil, fmt.Errorf("pal: open %q: %w", path, err)
	}

	return &Handle{file: f, lock: lock, path: path, readOnly: readOnly}, nil
}

// OpenMemory returns a Handle backed entirely by memory, for
// ":memory:" databases and tests. No inter-process lock is needed.
func OpenMemory() *Handle {
	return &Handle{file: NewMemFile(), path: ":memory:"}
}

// Size returns the current file size in bytes.
func (h *Handle) Size() (int64, error) {
	info, err := h.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("pal: stat %q: %w", h.path, err)
	}
	return info.Size(), nil
}

// EnsureMinimumSize idempotently extends the file to at least bytes
// long. Shrinking never happens here.
func (h *Handle) EnsureMinimumSize(bytes int64) error {
	if h.readOnly {
		return fmt.Errorf("pal: cannot resize %q: read-only", h.path)
	}
	cur, err := h.Size()
	if err != nil {
		return err
	}
	if cur >= bytes {
		return nil
	}
	if err := h.file.Truncate(bytes); err != nil {
		return fmt.Errorf("pal: extend %q to %d bytes: %w", h.path, bytes, err)
	}
	return nil
}

// ReadRange reads len(buf) bytes starting at off: a positional read
// that bypasses the mapping. Nothing in this module calls it.
func (h *Handle) ReadRange(off int64, buf []byte) error {
	_, err := h.file.ReadAt(buf, off)
	if err != nil {
		return fmt.Errorf("pal: read %q at %d: %w", h.path, off, err)
	}
	return nil
}

// WriteAt is the pages_write primitive: a positional write with no
// implicit sync.
func (h *Handle) WriteAt(off int64, buf []byte) error {
	if h.readOnly {
		return fmt.Errorf("pal: write %q: read-only", h.path)
	}
	_, err := h.file.WriteAt(buf, off)
	if err != nil {
		return fmt.Errorf("pal: write %q at %d: %w", h.path, off, err)
	}
	return nil
}

// Sync flushes the file to stable storage. The core never calls this
// implicitly on commit; see SPEC_FULL.md §11.4.
func (h *Handle) Sync() error {
	if h.readOnly {
		return nil
	}
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("pal: sync %q: %w", h.path, err)
	}
	return nil
}

// Close closes the underlying file and then releases the
// exclusive-writer lock, if held.
func (h *Handle) Close() error {
	err := h.file.Close()
	if h.lock != nil {
		if uerr := h.lock.unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}

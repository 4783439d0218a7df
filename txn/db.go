package txn

import (
	"fmt"
	"sync"

	"github.com/gavran-db/gavran/pal"
	"go.uber.org/zap"
)

// DatabaseOptions configures OpenDatabase.
type DatabaseOptions struct {
	// ReadOnly opens the file read-only; any write-intent Begin fails.
	ReadOnly bool
	// InitialPages sizes a brand-new file; ignored for an existing one.
	// Defaults to 16 pages (128 KiB at the default PageSize) if zero.
	InitialPages uint64
	// Logger receives structured lifecycle events. Defaults to a no-op
	// logger so library use never forces output.
	Logger *zap.Logger
}

const defaultInitialPages = 16

// Database is the opaque handle transactions share: the underlying
// file mapping and the committed page count. Its lifetime exceeds
// that of any Transaction opened on it, per spec.md §3.
type Database struct {
	handle   *pal.Handle
	path     string
	readOnly bool
	logger   *zap.Logger

	// mapMu guards mapping and totalPages: readers take RLock, a
	// commit that grows the file takes Lock to swap the mapping.
	mapMu      sync.RWMutex
	mapping    pal.Mapping
	mappedSize int64
	totalPages uint64

	// writerMu enforces spec.md §5's single live write-intent
	// transaction per database.
	writerMu sync.Mutex
}

// OpenDatabase opens or creates a database file.
func OpenDatabase(path string, opts DatabaseOptions) (*Database, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	h, err := pal.Open(path, opts.ReadOnly)
	if err != nil {
		return nil, err
	}

	size, err := h.Size()
	if err != nil {
		h.Close()
		return nil, err
	}

	if size == 0 {
		if opts.ReadOnly {
			h.Close()
			return nil, fmt.Errorf("txn: cannot open %q read-only: file is empty", path)
		}
		initialPages := opts.InitialPages
		if initialPages == 0 {
			initialPages = defaultInitialPages
		}
		size = int64(initialPages * PageSize)
		if err := h.EnsureMinimumSize(size); err != nil {
			h.Close()
			return nil, err
		}
	} else if size%PageSize != 0 {
		h.Close()
		return nil, fmt.Errorf("txn: %q size %d is not a multiple of PageSize %d", path, size, PageSize)
	}

	mapping, err := h.Map(size)
	if err != nil {
		h.Close()
		return nil, err
	}

	db := &Database{
		handle:     h,
		path:       path,
		readOnly:   opts.ReadOnly,
		logger:     logger,
		mapping:    mapping,
		mappedSize: size,
		totalPages: uint64(size) / PageSize,
	}
	logger.Debug("database opened", zap.String("path", path), zap.Uint64("total_pages", db.totalPages), zap.Bool("read_only", opts.ReadOnly))
	return db, nil
}

// OpenMemoryDatabase opens an in-memory-only database (":memory:"),
// for playgrounds and tests; no file, no inter-process lock.
func OpenMemoryDatabase(opts DatabaseOptions) (*Database, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := pal.OpenMemory()

	initialPages := opts.InitialPages
	if initialPages == 0 {
		initialPages = defaultInitialPages
	}
	size := int64(initialPages * PageSize)
	if err := h.EnsureMinimumSize(size); err != nil {
		return nil, err
	}
	mapping, err := h.Map(size)
	if err != nil {
		return nil, err
	}
	return &Database{
		handle:     h,
		path:       ":memory:",
		logger:     logger,
		mapping:    mapping,
		mappedSize: size,
		totalPages: uint64(size) / PageSize,
	}, nil
}

// Close unmaps the file and releases the PAL handle (and its
// inter-process lock, if held).
func (db *Database) Close() error {
	db.mapMu.Lock()
	defer db.mapMu.Unlock()
	if db.mapping != nil {
		if err := db.mapping.Unmap(); err != nil {
			return err
		}
		db.mapping = nil
	}
	err := db.handle.Close()
	db.logger.Debug("database closed", zap.String("path", db.path))
	return err
}

// Sync flushes the underlying file to stable storage. Not called
// implicitly by Commit — see SPEC_FULL.md §11.4.
func (db *Database) Sync() error {
	return db.handle.Sync()
}

// TotalPages returns the number of pages currently committed to the
// file (i.e. visible to a fresh transaction's GetPage/pages_get path).
func (db *Database) TotalPages() uint64 {
	db.mapMu.RLock()
	defer db.mapMu.RUnlock()
	return db.totalPages
}

// readMappedPage returns a read-only view of the bufferSize(overflowSize)
// bytes starting at pageNum, or an error if pageNum is past the
// committed file or the run extends past the mapping: this is the
// pages_get primitive of spec.md §4.2.
func (db *Database) readMappedPage(pageNum uint64, overflowSize uint64) ([]byte, error) {
	db.mapMu.RLock()
	defer db.mapMu.RUnlock()

	if pageNum >= db.totalPages {
		return nil, fmt.Errorf("txn: page %d out of range (total=%d)", pageNum, db.totalPages)
	}
	size := bufferSize(overflowSize)
	start := int64(pageNum) * PageSize
	end := start + int64(size)
	if end > db.mappedSize {
		return nil, fmt.Errorf("txn: page %d run of %d bytes exceeds mapped range (mapped=%d)", pageNum, size, db.mappedSize)
	}
	return db.mapping.Bytes()[start:end], nil
}

// pageInRange reports whether pageNum is within the committed file,
// without resolving its bytes. Nothing in the package calls it.
func (db *Database) pageInRange(pageNum uint64) bool {
	db.mapMu.RLock()
	defer db.mapMu.RUnlock()
	return pageNum < db.totalPages
}

// writePage is the pages_write primitive of spec.md §4.2: flush
// ceil(overflowSize/PageSize)*PageSize bytes to the file at
// pageNum*PageSize. A regular file grows to cover the write
// automatically; an in-memory file grows explicitly (pal.MemFile).
func (db *Database) writePage(pageNum uint64, data []byte) error {
	off := int64(pageNum) * PageSize
	return db.handle.WriteAt(off, data)
}

// growTo records that the file now covers at least newTotalPages
// pages and, if that exceeds what is currently mapped, re-establishes
// the mapping so later reads can see the new pages. Called by every
// read-write Commit once all of its pages are written; a no-op when
// no page past the committed end was written.
func (db *Database) growTo(newTotalPages uint64) error {
	db.mapMu.Lock()
	defer db.mapMu.Unlock()

	if newTotalPages <= db.totalPages {
		return nil
	}
	newSize := int64(newTotalPages) * PageSize
	if newSize > db.mappedSize {
		if err := db.handle.EnsureMinimumSize(newSize); err != nil {
			return err
		}
		newMapping, err := db.handle.Map(newSize)
		if err != nil {
			return err
		}
		if db.mapping != nil {
			db.mapping.Unmap()
		}
		db.mapping = newMapping
		db.mappedSize = newSize
	}
	db.totalPages = newTotalPages
	return nil
}

// lockWriter acquires the single-writer slot; released by unlockWriter
// in Commit or Close.
func (db *Database) lockWriter() { db.writerMu.Lock() }

func (db *Database) unlockWriter() { db.writerMu.Unlock() }

package txn

import (
	"fmt"

	"github.com/gavran-db/gavran/errs"
	"github.com/gavran-db/gavran/pal"
	"go.uber.org/zap"
)

// TxFlags is the reserved flags word spec.md §3/§6 attaches to every
// transaction. No bit is assigned semantic meaning in the original
// core revision ("recognised bit set = {}"); gavran assigns exactly
// one bit, FlagReadOnly, since §5's single-writer model already talks
// about "write-intent" transactions and needs a way to say which ones
// are which. Any other bit is rejected, per spec.md §6's forward-
// compatibility rule.
type TxFlags uint32

const (
	// FlagNone begins an ordinary write-intent transaction.
	FlagNone TxFlags = 0
	// FlagReadOnly begins a transaction that may only call GetPage and
	// GetMetadata; it never takes the database's writer slot.
	FlagReadOnly TxFlags = 1 << 0
)

const recognizedFlags = FlagReadOnly

// Transaction is the scope object spec.md §4.4 describes: create, open
// (get_page/modify_page freely), commit or discard, close. It owns the
// modified-page table and is single-goroutine: like its Stack, it is
// not safe for concurrent use by design.
type Transaction struct {
	db          *Database
	writeIntent bool
	table       *modifiedTable
	nextPageNum uint64

	Errs *errs.Stack

	writerLocked bool
	committed    bool
	closed       bool

	logger *zap.Logger
}

// Begin opens a transaction against db. A write-intent transaction
// (flags without FlagReadOnly set) takes the database's single-writer
// slot for its entire lifetime (released by Commit or Close); a
// read-only transaction never blocks on it, matching spec.md §5's
// "readers proceed independently of the active writer" model.
func Begin(db *Database, flags TxFlags) (*Transaction, error) {
	if flags&^recognizedFlags != 0 {
		return nil, errs.Record{Kind: errs.KindInvalidArgument, Message: "begin: unknown flag bits",
			Fields: []errs.Field{errs.F("flags", fmt.Sprintf("%#x", uint32(flags&^recognizedFlags)))}}
	}
	writeIntent := flags&FlagReadOnly == 0
	if writeIntent && db.readOnly {
		return nil, fmt.Errorf("txn: cannot begin a write transaction on a read-only database")
	}
	if writeIntent {
		db.lockWriter()
	}
	return &Transaction{
		db:           db,
		writeIntent:  writeIntent,
		table:        newModifiedTable(),
		nextPageNum:  db.TotalPages(),
		Errs:         &errs.Stack{},
		writerLocked: writeIntent,
		logger:       db.logger,
	}, nil
}

func (t *Transaction) requireOpen() error {
	if t.closed {
		return fmt.Errorf("txn: transaction is closed")
	}
	return nil
}

// requireReady implements spec.md §4.6/§7's entry-point precondition:
// every core operation (other than Close, which must succeed even with
// pending errors per spec.md §7) asserts the transaction is still open
// and that its error channel is empty before doing any work.
func (t *Transaction) requireReady() error {
	if err := t.requireOpen(); err != nil {
		return err
	}
	return t.Errs.AssertEmpty()
}

// isMetadataPage reports whether pageNum is itself the first page of
// its metadata group. Per spec.md §4.5's self-recursion guard, such a
// page describes itself in its own header instead of being looked up
// through another metadata page, and never carries an overflow run of
// its own.
func isMetadataPage(pageNum uint64) bool {
	return metadataPageNum(pageNum) == pageNum
}

// resolveOverflowSize is the tolerant internal counterpart to
// GetMetadata used by GetPage/ModifyPage to learn a page's previously
// recorded overflow run: unlike the public accessor, it treats an
// untouched metadata group (never stamped by ModifyMetadata) as "no
// overflow recorded" rather than an error, so pages nobody has ever
// described still read back as ordinary single pages.
func (t *Transaction) resolveOverflowSize(pageNum uint64) (uint64, error) {
	if isMetadataPage(pageNum) {
		return 0, nil
	}

	metaPageNum := metadataPageNum(pageNum)
	page, err := t.GetPage(metaPageNum)
	if err != nil {
		return 0, err
	}

	header := decodeMetadataEntry(page.Address[0:MetadataEntrySize])
	if header.Type != MetadataPageTag {
		return 0, nil
	}

	off := entryOffset(localIndex(pageNum))
	entry := decodeMetadataEntry(page.Address[off : off+MetadataEntrySize])
	return uint64(entry.OverflowSize), nil
}

// recordOverflowSize persists pageNum's overflow run via ModifyMetadata
// so a later GetPage/ModifyPage (in this or another transaction) can
// resolve it. A metadata page never describes its own overflow this
// way (it has none, and doing so would recurse into itself).
func (t *Transaction) recordOverflowSize(pageNum uint64, overflowSize uint64) error {
	if isMetadataPage(pageNum) {
		return nil
	}
	_, err := t.ModifyMetadata(pageNum, uint32(overflowSize))
	return err
}

// GetPage implements spec.md §4.4's get_page: return the transaction's
// own copy if this page has already been modified in scope, otherwise
// a read-only view onto the committed file, sized to the overflow run
// recorded for it by the metadata accessor (spec.md §4.1/§4.4).
func (t *Transaction) GetPage(pageNum uint64) (Page, error) {
	if err := t.requireReady(); err != nil {
		return Page{}, err
	}
	if b, ok := t.table.lookup(pageNum); ok {
		return Page{PageNum: pageNum, Address: b.buf.Bytes(), OverflowSize: b.overflowSize}, nil
	}

	overflowSize, err := t.resolveOverflowSize(pageNum)
	if err != nil {
		return Page{}, err
	}

	bytes, err := t.db.readMappedPage(pageNum, overflowSize)
	if err != nil {
		return Page{}, t.Errs.Push(errs.KindInvalidArgument, "get_page: page out of range",
			errs.F("page_num", pageNum))
	}
	return Page{PageNum: pageNum, Address: bytes, OverflowSize: overflowSize}, nil
}

// ModifyPage implements spec.md §4.4's modify_page: first call for a
// page copies it into a transaction-owned aligned buffer; subsequent
// calls within the same transaction return that same buffer, growing
// it if overflowSize now asks for a larger run (resolved as
// max(request, original), per SPEC_FULL.md §11.3). Buffer allocation
// failure here is fatal (hard OOM), unlike the table's own tolerance
// for a failed Expand.
func (t *Transaction) ModifyPage(pageNum uint64, overflowSize uint64) (Page, error) {
	if err := t.requireReady(); err != nil {
		return Page{}, err
	}
	if !t.writeIntent {
		return Page{}, t.Errs.Push(errs.KindInvalidArgument, "modify_page: transaction is read-only",
			errs.F("page_num", pageNum))
	}

	if b, ok := t.table.lookup(pageNum); ok {
		effective := maxU64(overflowSize, b.overflowSize)
		if effective == b.overflowSize {
			return Page{PageNum: pageNum, Address: b.buf.Bytes(), OverflowSize: b.overflowSize}, nil
		}

		grown, err := pal.AllocateAligned(bufferSize(effective))
		if err != nil {
			return Page{}, t.Errs.Push(errs.KindOutOfMemory, "modify_page: grow buffer allocation failed",
				errs.F("page_num", pageNum), errs.F("overflow_size", effective))
		}
		copy(grown.Bytes(), b.buf.Bytes())
		t.table.resize(pageNum, grown, effective)
		if err := t.recordOverflowSize(pageNum, effective); err != nil {
			grown.Free()
			return Page{}, err
		}
		return Page{PageNum: pageNum, Address: grown.Bytes(), OverflowSize: effective}, nil
	}

	// Resolve the original's recorded overflow size via the metadata
	// accessor before sizing the copy-on-write buffer: a page nobody
	// has modified yet in this transaction may still carry an overflow
	// run from a prior commit, and truncating to just the caller's
	// request here would silently corrupt the rest of that run.
	originalOverflow, err := t.resolveOverflowSize(pageNum)
	if err != nil {
		return Page{}, err
	}
	effective := maxU64(overflowSize, originalOverflow)

	buf, err := pal.AllocateAligned(bufferSize(effective))
	if err != nil {
		return Page{}, t.Errs.Push(errs.KindOutOfMemory, "modify_page: buffer allocation failed",
			errs.F("page_num", pageNum), errs.F("overflow_size", effective))
	}

	original, err := t.db.readMappedPage(pageNum, effective)
	if err != nil {
		buf.Free()
		return Page{}, t.Errs.Push(errs.KindInvalidArgument, "modify_page: page out of range",
			errs.F("page_num", pageNum))
	}
	copy(buf.Bytes(), original)

	if err := t.table.insert(pageNum, buf, effective); err != nil {
		buf.Free()
		return Page{}, t.Errs.Push(errs.KindInvalidArgument, "modify_page: insert failed",
			errs.F("page_num", pageNum), errs.F("reason", err.Error()))
	}
	// Only an actual overflow run needs a metadata entry: the tolerant
	// read path already defaults an untouched page to zero, so the
	// common single-page case never needs to touch the metadata page.
	if effective > 0 {
		if err := t.recordOverflowSize(pageNum, effective); err != nil {
			return Page{}, err
		}
	}
	return Page{PageNum: pageNum, Address: buf.Bytes(), OverflowSize: effective}, nil
}

// AllocatePage is the page-growing hook added next to the core
// get/modify/commit/close operations: it reserves the
// next pageCount(overflowSize) pages past the transaction's current
// view of the file and hands back a zeroed, transaction-owned buffer
// for them. The pages only become visible to other transactions once
// this one commits.
func (t *Transaction) AllocatePage(overflowSize uint64) (Page, error) {
	if err := t.requireReady(); err != nil {
		return Page{}, err
	}
	if !t.writeIntent {
		return Page{}, t.Errs.Push(errs.KindInvalidArgument, "allocate_page: transaction is read-only")
	}

	pageNum := t.nextPageNum
	buf, err := pal.AllocateAligned(bufferSize(overflowSize))
	if err != nil {
		return Page{}, t.Errs.Push(errs.KindOutOfMemory, "allocate_page: buffer allocation failed",
			errs.F("overflow_size", overflowSize))
	}

	if err := t.table.insert(pageNum, buf, overflowSize); err != nil {
		buf.Free()
		return Page{}, t.Errs.Push(errs.KindInvalidArgument, "allocate_page: insert failed",
			errs.F("page_num", pageNum), errs.F("reason", err.Error()))
	}
	t.nextPageNum += pageCount(overflowSize)

	// Record the allocated run's size so a later get_page (in this or
	// another transaction, after commit) resolves the same overflow
	// run instead of seeing a lone first page.
	if overflowSize > 0 {
		if err := t.recordOverflowSize(pageNum, overflowSize); err != nil {
			return Page{}, err
		}
	}
	return Page{PageNum: pageNum, Address: buf.Bytes(), OverflowSize: overflowSize}, nil
}

// Commit implements spec.md §4.4's commit: flush every modified page
// in bucket order (not sorted by pageNum), grow the database's committed page count and
// mapping to cover any newly allocated pages, then release the
// transaction's buffers and its writer slot. A read-only transaction's
// Commit is a trivial success, matching the state diagram.
func (t *Transaction) Commit() error {
	if err := t.requireReady(); err != nil {
		return err
	}
	if t.committed {
		return fmt.Errorf("txn: transaction already committed")
	}
	if !t.writeIntent {
		t.committed = true
		return nil
	}

	highWater := t.db.TotalPages()
	for _, b := range t.table.buckets {
		if b.buf == nil {
			continue
		}
		if err := t.db.writePage(b.pageNum, b.buf.Bytes()); err != nil {
			pushed := t.Errs.Push(errs.KindIO, "commit: write page failed",
				errs.F("page_num", b.pageNum))
			t.logger.Error("commit failed", zap.Uint64("page_num", b.pageNum), zap.Error(err))
			return pushed
		}
		highWater = maxU64(highWater, b.pageNum+pageCount(b.overflowSize))
	}

	if err := t.db.growTo(highWater); err != nil {
		return t.Errs.Push(errs.KindIO, "commit: extend database failed")
	}

	t.table.releaseAll()
	t.committed = true
	t.db.unlockWriter()
	t.writerLocked = false
	t.logger.Debug("transaction committed", zap.Uint64("high_water_pages", highWater))
	return nil
}

// Close discards any uncommitted modifications and releases the
// writer slot if this transaction still holds it. Idempotent, per
// spec.md §4.4's self-loop on the closed state. Deliberately does not
// assert Errs is empty: spec.md §7 requires close to succeed even in
// the presence of prior errors, since it only releases resources and
// never clears the error channel.
func (t *Transaction) Close() error {
	if t.closed {
		return nil
	}
	if !t.committed {
		t.table.releaseAll()
	}
	if t.writerLocked {
		t.db.unlockWriter()
		t.writerLocked = false
	}
	t.closed = true
	return nil
}

// Package txn implements the paging and transaction core: the page
// model, the modified-page table, the Transaction scope object, and
// the metadata accessor that resolves overflow-run sizes.
package txn

// PageSize is the fixed size of a page in bytes.
const PageSize = 8192

// PageAlignment is the alignment, in bytes, every transaction-owned
// page buffer is allocated to.
const PageAlignment = 4096

// Build-time assertion that PageSize is a multiple of PageAlignment,
// the invariant spec.md §3 requires.
var _ [0]struct{} = [PageSize % PageAlignment]struct{}{}

// PageHeaderSize is reserved at the front of every page for the
// metadata entry that describes it when the page is itself a
// metadata page (see metadata.go); data pages leave it unused.
const PageHeaderSize = 16

// Page is the handle callers exchange with the core: an identity
// (PageNum), a view onto its bytes (Address), and the byte length of
// the logical run it belongs to (OverflowSize). Address is read-only
// when returned from GetPage (it aliases the database's mapping) and
// writable when returned from ModifyPage or AllocatePage (it aliases
// a buffer the transaction owns).
type Page struct {
	PageNum      uint64
	Address      []byte
	OverflowSize uint64
}

// pageCount returns ceil(overflowSize / PageSize), the number of
// physical pages an overflow run of overflowSize bytes occupies. A
// zero overflowSize is treated as one page, matching ModifyPage's
// "defaults to PageSize if zero" rule.
func pageCount(overflowSize uint64) uint64 {
	if overflowSize == 0 {
		return 1
	}
	return (overflowSize + PageSize - 1) / PageSize
}

// bufferSize is the aligned byte length backing an overflow run of
// overflowSize bytes: always a whole multiple of PageSize.
func bufferSize(overflowSize uint64) int {
	return int(pageCount(overflowSize) * PageSize)
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

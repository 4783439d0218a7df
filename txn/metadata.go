package txn

import (
	"encoding/binary"

	"github.com/gavran-db/gavran/errs"
)

// MetadataEntrySize is the fixed, on-disk size of one MetadataEntry:
// a 1-byte type tag, 3 reserved bytes, a 4-byte overflow size, and 8
// reserved bytes left for a future MVCC version field (spec.md §9's
// concurrency-future-proofing note).
const MetadataEntrySize = 16

// MetadataPageTag is the type tag a valid metadata page's own
// describing entry must carry.
const MetadataPageTag uint8 = 1

// metadataGroupSize is the number of pages described by a single
// metadata page, including the metadata page itself.
const metadataGroupSize = 256

// PagesInMetadataMask resolves a page number to its position within
// its metadata group. Per SPEC_FULL.md §3, the group's first page
// (pageNum with its low 8 bits cleared) is always the metadata page;
// masking with ^PagesInMetadataMask finds it, masking with
// PagesInMetadataMask finds a page's local index within it.
const PagesInMetadataMask = metadataGroupSize - 1

// MetadataEntry describes one page: its type tag and the overflow run
// size it was last written with.
type MetadataEntry struct {
	Type         uint8
	OverflowSize uint32
}

func metadataPageNum(pageNum uint64) uint64 {
	return pageNum &^ PagesInMetadataMask
}

func localIndex(pageNum uint64) uint64 {
	return pageNum & PagesInMetadataMask
}

// entryOffset locates localIndex's entry within a metadata page. Local
// index 0 is the metadata page describing itself and lives in the
// page's own header (the first PageHeaderSize bytes); this is the
// self-recursion guard spec.md §4.5 requires — the page that would
// need to be "described by" itself just describes itself in place,
// instead of chasing another level of indirection.
func entryOffset(idx uint64) int {
	if idx == 0 {
		return 0
	}
	return PageHeaderSize + int(idx-1)*MetadataEntrySize
}

func decodeMetadataEntry(b []byte) MetadataEntry {
	return MetadataEntry{
		Type:         b[0],
		OverflowSize: binary.LittleEndian.Uint32(b[4:8]),
	}
}

func encodeMetadataEntry(b []byte, e MetadataEntry) {
	b[0] = e.Type
	b[1], b[2], b[3] = 0, 0, 0
	binary.LittleEndian.PutUint32(b[4:8], e.OverflowSize)
	for i := 8; i < MetadataEntrySize; i++ {
		b[i] = 0
	}
}

// GetMetadata implements spec.md §4.5's metadata read path: resolve
// pageNum's describing metadata page, verify it is actually tagged as
// one, then decode the requested entry.
func (t *Transaction) GetMetadata(pageNum uint64) (*MetadataEntry, error) {
	metaPageNum := metadataPageNum(pageNum)
	page, err := t.GetPage(metaPageNum)
	if err != nil {
		return nil, err
	}

	header := decodeMetadataEntry(page.Address[0:MetadataEntrySize])
	if header.Type != MetadataPageTag {
		return nil, t.Errs.Push(errs.KindInvalidArgument, "get_metadata: page is not tagged as a metadata page",
			errs.F("meta_page_num", metaPageNum))
	}

	off := entryOffset(localIndex(pageNum))
	entry := decodeMetadataEntry(page.Address[off : off+MetadataEntrySize])
	return &entry, nil
}

// ModifyMetadata implements spec.md §4.5's metadata write path:
// modify_page the describing metadata page (a no-op copy if this
// transaction already touched it), stamp its own header with the
// metadata-page tag if this is the first write to the group, then
// overwrite pageNum's entry. The metadata page itself never needs an
// overflow run of its own — metadataGroupSize entries of
// MetadataEntrySize bytes fit in a single page alongside its header.
func (t *Transaction) ModifyMetadata(pageNum uint64, overflowSize uint32) (*MetadataEntry, error) {
	metaPageNum := metadataPageNum(pageNum)
	metaPage, err := t.ModifyPage(metaPageNum, 0)
	if err != nil {
		return nil, err
	}

	header := decodeMetadataEntry(metaPage.Address[0:MetadataEntrySize])
	if header.Type != MetadataPageTag {
		header.Type = MetadataPageTag
		encodeMetadataEntry(metaPage.Address[0:MetadataEntrySize], header)
	}

	entry := MetadataEntry{Type: MetadataPageTag, OverflowSize: overflowSize}
	off := entryOffset(localIndex(pageNum))
	encodeMetadataEntry(metaPage.Address[off:off+MetadataEntrySize], entry)
	return &entry, nil
}

package pal

// AlignedBuffer is a page-aligned, independently owned byte buffer:
// the backing store for a transaction's copy-on-write page copies.
// Exactly one owner holds a given AlignedBuffer at a time (the
// modified-page table, until commit transfers it to the write path or
// close drops it unwritten) — see SPEC_FULL.md §4.3.
type AlignedBuffer struct {
	bytes []byte
	free  func() error
}

// Bytes returns the writable backing slice.
func (b *AlignedBuffer) Bytes() []byte { return b.bytes }

// Free releases the buffer. Calls after the first are no-ops.
func (b *AlignedBuffer) Free() error {
	if b.free == nil {
		return nil
	}
	err := b.free()
	b.free = nil
	b.bytes = nil
	return err
}

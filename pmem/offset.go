package pmem

import "unsafe"

// OffsetOf returns the pool-relative byte offset of any uint64 field
// that lives inside this pool's mapped region (root cursors, scratch
// journal slots, ...). It lets other packages target Publish actions at
// root fields without reaching into pmem's internal layout.
func (p *Pool) OffsetOf(field *uint64) uint64 {
	return uint64(uintptr(unsafe.Pointer(field)) - p.base)
}

// OffsetOfBlockEntry returns the pool-relative byte offset of blk's
// index-th log entry, used to compute flush ranges within a block.
func (p *Pool) OffsetOfBlockEntry(blk *LogBlock, index uint64) uint64 {
	return uint64(uintptr(unsafe.Pointer(&blk.Logs[index])) - p.base)
}

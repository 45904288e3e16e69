// Package pmem adapts a memory-mapped file to stand in for byte-addressable
// NVM: open/create, a typed root record, cache-line flush, store-fence
// drain, and a small crash-atomic multi-word publish primitive.
package pmem

import "unsafe"

const (
	// LayoutName tags the pool file, mirroring the original engine's
	// pmemobj layout name.
	LayoutName = "dudetm"

	poolMagic = 0x1dde7377

	// FullPoolSize and SmallPoolSize are the two supported pool sizes.
	FullPoolSize  int64 = 1 << 30 // 1 GiB
	SmallPoolSize int64 = 128 << 20

	// RootCount is the number of application-level root pointers the
	// pool root carries.
	RootCount = 127

	// NVEntryCount is the number of (addr, data) entries per ring block.
	NVEntryCount = 63

	// RingBlockCount is the number of blocks in the NVM ring.
	RingBlockCount = 1024

	// BEGIN/END sentinels. Legal addresses are bounded below pool size,
	// so these never collide with a real offset.
	BeginSig uint64 = 0xFFFFFFFFFFFFFFFF
	EndSig   uint64 = 0xFFFFFFFFFFFFFFFE

	// BlockTypeTag identifies ring blocks, mirroring the original
	// TYPE_NV_LOG_BLOCK tag.
	BlockTypeTag = 1

	scratchActionCap = 8
)

// Entry is one (address, payload) pair stored in a ring block.
type Entry struct {
	Addr uint64
	Data uint64
}

// LogBlock is one fixed-capacity block of the NVM ring. Size is
// 16 + 63*16 = 1024 bytes, aligned to a 128-byte (cache-line-multiple)
// boundary as required by the external layout.
type LogBlock struct {
	Next     uint64
	Reserved uint64
	Logs     [NVEntryCount]Entry
}

const logBlockSize = int(unsafe.Sizeof(LogBlock{}))

// RootRecord is the single persistent record held at a fixed offset in
// the pool: application roots plus the ring's producer/consumer cursors
// and commit-timestamp watermarks.
type RootRecord struct {
	ObjRoot [RootCount]uint64
	RootNum uint64

	PersistBlock       uint64
	ReproduceBlock     uint64
	PersistOffset      uint64
	ReproduceOffset    uint64
	PersistTimestamp   uint64
	ReproduceTimestamp uint64
}

// scratchJournal backs Publish's crash-atomic multi-word store: the new
// values are written here and drained before the real targets are
// touched, so a crash mid-publish can be replayed to completion.
type scratchJournal struct {
	Valid   uint64
	Count   uint64
	Targets [scratchActionCap]uint64
	Values  [scratchActionCap]uint64
}

type poolHeader struct {
	Magic      uint64
	LayoutTag  [16]byte
	CreatedAt  int64
	SessionID  [16]byte
	_          [8]byte // padding
	Root       RootRecord
	Scratch    scratchJournal
}

const (
	headerRegionSize = 4096 // one page, generously covers poolHeader
	ringRegionOffset = headerRegionSize
	ringRegionSize   = RingBlockCount * logBlockSize
	minPoolSize      = ringRegionOffset + ringRegionSize
)

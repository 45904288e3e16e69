// Package ring implements the circular on-NVM redo log: a producer
// (persist) cursor and a consumer (reproduce) cursor walking a shared
// ring of fixed-capacity blocks, with BEGIN/DATA/END record framing.
package ring

import (
	"errors"

	"github.com/nvmstm/dudetm/pmem"
)

// ErrRingFull is returned by AppendEntry when advancing the writer
// would collide with the reader; it is recoverable — the caller
// restores its saved cursor and drives reproduce before retrying.
var ErrRingFull = errors.New("ring: full")

// ErrLogCorrupt is fatal: a record boundary lacked its expected
// sentinel, meaning the ring's contents are no longer trustworthy.
var ErrLogCorrupt = errors.New("ring: missing frame sentinel")

// State identifies where an entry sits within a framed record.
type State int

const (
	Begin State = iota
	Data
	End
)

// Ring walks a pre-allocated, pre-linked circle of pmem.LogBlock values.
// Its cursor fields are a volatile mirror of the pool root's persisted
// cursors; the root itself is only updated by an explicit Publish call.
type Ring struct {
	pool *pmem.Pool

	writeBlock  uint64
	writeOffset uint64
	// recordStart is the offset, within the block currently being
	// written, where the in-flight record's first entry for that block
	// landed. Reset to 0 whenever a block boundary is crossed.
	recordStart uint64

	readBlock  uint64
	readOffset uint64

	// onFlush, if set, is called with the byte length of each flush
	// issued while writing a record — the measurement hooks' "before
	// each NVM flush" collection point.
	onFlush func(bytes int)
}

// New mirrors the ring's volatile cursors from the pool root. Valid
// both for a freshly created pool (persist == reproduce == block 0) and
// for a reopened one (persist/reproduce reflect the last durable
// state); the caller drives recovery afterward in either case.
func New(pool *pmem.Pool) *Ring {
	root := pool.Root()
	return &Ring{
		pool:        pool,
		writeBlock:  root.PersistBlock,
		writeOffset: root.PersistOffset,
		readBlock:   root.ReproduceBlock,
		readOffset:  root.ReproduceOffset,
	}
}

// WriteCursor snapshots the producer cursor, to be restored by
// RestoreWriteCursor if a record write fails partway with RING_FULL.
func (r *Ring) WriteCursor() (block, offset uint64) {
	return r.writeBlock, r.writeOffset
}

// RestoreWriteCursor rolls the producer cursor back to a previously
// snapshotted value, discarding any partial entries written since —
// they are harmless because the root's persist cursor was never
// published past them.
func (r *Ring) RestoreWriteCursor(block, offset uint64) {
	r.writeBlock = block
	r.writeOffset = offset
	r.recordStart = 0
}

// AppendEntry places entry at the current write cursor and advances it.
// On BEGIN, it records the in-block start offset for the eventual
// flush range. On END, it flushes the record's tail. If advancing would
// fill the ring entirely (the next block is the reader's block),
// ErrRingFull is returned and the write cursor is left exactly where it
// was before this call.
func (r *Ring) AppendEntry(entry pmem.Entry, state State) error {
	if state == Begin {
		r.recordStart = r.writeOffset
	}

	blk := r.pool.BlockAt(r.writeBlock)
	blk.Logs[r.writeOffset] = entry
	r.writeOffset++

	if r.writeOffset == pmem.NVEntryCount {
		if blk.Next == r.readBlock {
			r.writeOffset--
			return ErrRingFull
		}
		r.flush(blk, r.recordStart, r.writeOffset)
		r.writeBlock = blk.Next
		r.writeOffset = 0
		r.recordStart = 0
		return nil
	}

	if state == End {
		r.flush(blk, r.recordStart, r.writeOffset)
	}
	return nil
}

// SetFlushHook installs fn to be called with the byte length of every
// flush this ring issues. Passing nil disables collection.
func (r *Ring) SetFlushHook(fn func(bytes int)) {
	r.onFlush = fn
}

func (r *Ring) flush(blk *pmem.LogBlock, from, to uint64) {
	if to <= from {
		return
	}
	off := r.pool.OffsetOfBlockEntry(blk, from)
	n := uintptr((to - from) * 16)
	if r.onFlush != nil {
		r.onFlush(int(n))
	}
	r.pool.Flush(uintptr(off), n)
}

// Drain is the store fence following a fully written record, guaranteeing
// every flush issued while writing it has reached the persistence
// domain before the caller publishes the new persist cursor.
func (r *Ring) Drain() {
	r.pool.Drain()
}

// PublishPersistCursor durably and atomically advances the root's
// persist cursor and timestamp to the ring's current write position.
func (r *Ring) PublishPersistCursor(commitTimestamp uint64) {
	root := r.pool.Root()
	r.pool.Publish(
		pmem.WordAction{Offset: r.pool.OffsetOf(&root.PersistBlock), Value: r.writeBlock},
		pmem.WordAction{Offset: r.pool.OffsetOf(&root.PersistOffset), Value: r.writeOffset},
		pmem.WordAction{Offset: r.pool.OffsetOf(&root.PersistTimestamp), Value: commitTimestamp},
	)
}

// ConsumeEntry reads the entry at the current read cursor and advances
// it, following the block's next-pointer at a boundary. It does not
// publish anything; the caller (group commit controller) decides when
// a full record has been consumed and publishes the reproduce cursor.
func (r *Ring) ConsumeEntry() pmem.Entry {
	blk := r.pool.BlockAt(r.readBlock)
	e := blk.Logs[r.readOffset]
	r.readOffset++
	if r.readOffset == pmem.NVEntryCount {
		r.readBlock = blk.Next
		r.readOffset = 0
	}
	return e
}

// AtEnd reports whether the read cursor has caught up with the write
// cursor, i.e. there is nothing left to reproduce.
func (r *Ring) AtEnd() bool {
	return r.readBlock == r.writeBlock && r.readOffset == r.writeOffset
}

// PublishReproduceCursor durably and atomically advances the root's
// reproduce cursor and timestamp to the ring's current read position.
func (r *Ring) PublishReproduceCursor(commitTimestamp uint64) {
	root := r.pool.Root()
	r.pool.Publish(
		pmem.WordAction{Offset: r.pool.OffsetOf(&root.ReproduceBlock), Value: r.readBlock},
		pmem.WordAction{Offset: r.pool.OffsetOf(&root.ReproduceOffset), Value: r.readOffset},
		pmem.WordAction{Offset: r.pool.OffsetOf(&root.ReproduceTimestamp), Value: commitTimestamp},
	)
}

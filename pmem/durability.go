package pmem

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

var pageSize = uintptr(unix.Getpagesize())

// Flush writes back the cache lines covering [off, off+length) so they
// eventually reach the persistence domain, without ordering relative to
// other flushes — the NVM "flush" primitive. Backed by an asynchronous
// msync over the page-aligned range.
func (p *Pool) Flush(off, length uintptr) {
	p.msync(off, length, unix.MS_ASYNC)
}

// Drain is a store fence: every flush issued before this call is
// guaranteed to have reached the persistence domain once Drain returns.
// Backed by a synchronous msync over the whole mapping.
func (p *Pool) Drain() {
	p.msync(0, uintptr(len(p.region)), unix.MS_SYNC)
}

func (p *Pool) msync(off, length uintptr, flags int) {
	if length == 0 {
		return
	}
	start := off &^ (pageSize - 1)
	end := off + length
	if rem := end % pageSize; rem != 0 {
		end += pageSize - rem
	}
	if end > uintptr(len(p.region)) {
		end = uintptr(len(p.region))
	}
	if start >= end {
		return
	}
	_ = unix.Msync(p.region[start:end], flags)
}

// WordAction is one word-sized store to durably publish atomically
// alongside the other actions in the same Publish call.
type WordAction struct {
	Offset uint64 // pool-relative offset of the target word
	Value  uint64
}

// Publish durably applies a small batch of independent word stores as a
// single crash-atomic unit: either all of them survive a crash or none
// do. This is implemented with a redo-style scratch journal in the
// pool header (new values are journaled, then applied, and replayed on
// reopen) rather than relying on any hardware multi-word atomicity.
func (p *Pool) Publish(actions ...WordAction) {
	if len(actions) == 0 {
		return
	}
	if len(actions) > scratchActionCap {
		panic("pmem: too many actions for one Publish call")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s := &p.header().Scratch
	s.Count = uint64(len(actions))
	for i, a := range actions {
		s.Targets[i] = a.Offset
		s.Values[i] = a.Value
	}
	s.Valid = 1
	p.Flush(uintptr(unsafe.Offsetof(poolHeader{}.Scratch)), unsafe.Sizeof(scratchJournal{}))
	p.Drain()

	p.applyScratch(s)

	s.Valid = 0
	p.Flush(uintptr(unsafe.Offsetof(poolHeader{}.Scratch)), unsafe.Sizeof(scratchJournal{}))
	p.Drain()
}

// applyScratch performs the actual word stores described by a valid
// scratch journal and flushes+drains them.
func (p *Pool) applyScratch(s *scratchJournal) {
	for i := uint64(0); i < s.Count; i++ {
		*p.WordAt(s.Targets[i]) = s.Values[i]
		p.Flush(uintptr(s.Targets[i]), 8)
	}
	p.Drain()
}

// resumeScratchJournal re-applies a pending publish left valid by a
// crash mid-Publish, so recovery never observes a torn multi-word
// update.
func (p *Pool) resumeScratchJournal() {
	s := &p.header().Scratch
	if s.Valid == 0 {
		return
	}
	p.applyScratch(s)
	s.Valid = 0
	p.Flush(uintptr(unsafe.Offsetof(poolHeader{}.Scratch)), unsafe.Sizeof(scratchJournal{}))
	p.Drain()
}

// Package shadowpage maps virtual NVM pages to DRAM frames that shadow
// them, so the hot transactional read/write path never touches NVM
// until commit. A fixed pool of frames is recycled through a
// clock-style free list guarded by a spinlock; per-page validity and
// the set of threads currently using a frame are packed into one
// 64-bit word so eviction can be tested and performed atomically.
package shadowpage

import (
	"errors"
	"runtime"
	"sync/atomic"
)

// PageSize is the size, in bytes, of one shadowed NVM page.
const PageSize = 4096

// MaxThreads is the number of distinct thread indices the per-page used
// bitmap can track (one bit per thread, the top bit reserved for
// validity).
const MaxThreads = 63

const validBit = uint64(1) << 63

// ErrNeedsReproduce is returned by Use when the target page was touched
// by a commit not yet reproduced to its NVM home; the caller must drive
// the group commit controller's reproduce step and retry.
var ErrNeedsReproduce = errors.New("shadowpage: needs reproduce")

func packInf(valid bool, used uint64) uint64 {
	word := used &^ validBit
	if valid {
		word |= validBit
	}
	return word
}

func unpackInf(word uint64) (valid bool, used uint64) {
	return word&validBit != 0, word &^ validBit
}

// descriptor is a free-list entry: one DRAM frame and the VPN it
// currently shadows, if any.
type descriptor struct {
	ppn uint64
	vpn atomic.Uint64
	inf atomic.Uint64 // packed {valid, used-by-thread bitmap}
}

type tableEntry struct {
	desc    atomic.Pointer[descriptor]
	touchID atomic.Uint64
}

// spinlock is a minimal test-and-set lock, used for the
// free-list's mapping/eviction section per the concurrency model.
type spinlock struct {
	held atomic.Bool
}

func (s *spinlock) Lock() {
	for !s.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (s *spinlock) Unlock() {
	s.held.Store(false)
}

// ReproduceClock reports the engine's current reproduce_timestamp
// watermark, used for the touch_id barrier check during mapping.
type ReproduceClock func() uint64

// Table is the shadow page table plus its frame pool and free list.
type Table struct {
	entries []tableEntry
	frames  [][]byte
	free    []*descriptor
	head    int
	lock    spinlock

	reproduceTimestamp ReproduceClock
}

// New allocates a shadow page table for vpnNum virtual pages backed by
// ppnNum DRAM frames. clock reports the current reproduce_timestamp.
func New(vpnNum, ppnNum int, clock ReproduceClock) *Table {
	t := &Table{
		entries:            make([]tableEntry, vpnNum),
		frames:             make([][]byte, ppnNum),
		free:               make([]*descriptor, ppnNum),
		reproduceTimestamp: clock,
	}
	for i := 0; i < ppnNum; i++ {
		t.frames[i] = make([]byte, PageSize)
		d := &descriptor{ppn: uint64(i)}
		t.free[i] = d
	}
	return t
}

// Use translates nvAddr to its shadowing DRAM frame, mapping the page
// if needed, and records thread as a current user of the frame. The
// returned slice is exactly one PageSize page; callers index into it
// with nvAddr % PageSize.
func (t *Table) Use(thread uint, nvAddr uint64) ([]byte, error) {
	vpn := nvAddr / PageSize
	entry := &t.entries[vpn]

	for {
		d := entry.desc.Load()
		if d == nil {
			break
		}
		old := d.inf.Load()
		valid, used := unpackInf(old)
		if !valid || d.vpn.Load() != vpn {
			break
		}
		newWord := packInf(true, used|(uint64(1)<<thread))
		if d.inf.CompareAndSwap(old, newWord) {
			return t.frames[d.ppn], nil
		}
	}

	d, err := t.mapSlow(thread, vpn)
	if err != nil {
		return nil, err
	}
	return t.frames[d.ppn], nil
}

func (t *Table) mapSlow(thread uint, vpn uint64) (*descriptor, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	entry := &t.entries[vpn]

	if d := entry.desc.Load(); d != nil {
		for {
			old := d.inf.Load()
			valid, used := unpackInf(old)
			if !valid || d.vpn.Load() != vpn {
				break
			}
			newWord := packInf(true, used|(uint64(1)<<thread))
			if d.inf.CompareAndSwap(old, newWord) {
				return d, nil
			}
		}
	}

	if entry.touchID.Load() > t.reproduceTimestamp() {
		return nil, ErrNeedsReproduce
	}

	// A full rotation of the clock without finding an evictable
	// (unused) frame means the pool is exhausted: every frame is
	// pinned by some other transaction. The caller's remedy is the
	// same as the touch_id barrier's — drive reproduce and retry, in
	// case a reproduce step frees a pin. Only slots actually found
	// pinned count against the rotation bound; a CAS race against a
	// concurrent Use fast-path retries the same slot without spending
	// it, since mapSlow's lock already rules out a second evictor.
	scanned := 0
	for {
		d := t.free[t.head]
		old := d.inf.Load()
		valid, used := unpackInf(old)
		if used != 0 {
			scanned++
			if scanned >= len(t.free) {
				return nil, ErrNeedsReproduce
			}
			t.head = (t.head + 1) % len(t.free)
			continue
		}
		if !d.inf.CompareAndSwap(old, 0) {
			continue // someone else raced this slot; retry it
		}

		if valid {
			oldVPN := d.vpn.Load()
			t.entries[oldVPN].desc.CompareAndSwap(d, nil)
		}

		d.vpn.Store(vpn)
		d.inf.Store(packInf(true, uint64(1)<<thread))
		entry.desc.Store(d)
		t.head = (t.head + 1) % len(t.free)
		return d, nil
	}
}

// Release clears thread's bit on the page shadowing nvAddr and
// advances the page's touch_id to the larger of its current value and
// commitTS.
func (t *Table) Release(thread uint, nvAddr uint64, commitTS uint64) {
	vpn := nvAddr / PageSize
	entry := &t.entries[vpn]

	if d := entry.desc.Load(); d != nil && d.vpn.Load() == vpn {
		for {
			old := d.inf.Load()
			valid, used := unpackInf(old)
			used &^= uint64(1) << thread
			if d.inf.CompareAndSwap(old, packInf(valid, used)) {
				break
			}
		}
	}

	for {
		old := entry.touchID.Load()
		if commitTS <= old {
			return
		}
		if entry.touchID.CompareAndSwap(old, commitTS) {
			return
		}
	}
}

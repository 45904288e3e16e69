package pmem

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"github.com/google/uuid"

	"github.com/nvmstm/dudetm/internal/corelog"
)

// ErrPoolOpenFailed is fatal: the backing file could not be created,
// truncated, or mapped.
var ErrPoolOpenFailed = errors.New("pmem: pool open failed")

// PoolSize selects the two supported pool footprints.
type PoolSize int

const (
	Full PoolSize = iota
	Small
)

func (s PoolSize) bytes() int64 {
	if s == Small {
		return SmallPoolSize
	}
	return FullPoolSize
}

// Pool is a memory-mapped region standing in for a byte-addressable NVM
// pool. All offsets stored in the pool (ring next-pointers, root
// cursors, application roots) are relative to the start of the region,
// never host pointers — Base() translates an offset to a live address.
type Pool struct {
	file   *os.File
	region mmap.MMap
	base   uintptr

	mu      sync.Mutex // serializes Publish's scratch-journal dance
	created bool
	// SessionID is regenerated on every open for operator diagnostics.
	SessionID uuid.UUID
}

// OpenOrCreate maps path, creating and laying it out fresh at the
// requested size if it does not already exist. Reopening an existing
// file always maps its actual on-disk size rather than the requested
// size, so a pool created in one size mode can be reopened (e.g. by
// operator tooling) without the caller having to know or guess which
// mode it was created with.
func OpenOrCreate(path string, size PoolSize) (*Pool, error) {
	log := corelog.WithComponent("pmem")

	stat, statErr := os.Stat(path)
	if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
		corelog.Fatal("pmem: cannot stat pool file", statErr)
		return nil, fmt.Errorf("%w: %v", ErrPoolOpenFailed, statErr)
	}
	existed := statErr == nil

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		corelog.Fatal("pmem: cannot open pool file", err)
		return nil, fmt.Errorf("%w: %v", ErrPoolOpenFailed, err)
	}

	var want int64
	if existed {
		want = stat.Size()
		if want < int64(minPoolSize) {
			f.Close()
			corelog.Fatal("pmem: existing pool file too small", nil)
			return nil, fmt.Errorf("%w: file smaller than minimum pool size", ErrPoolOpenFailed)
		}
	} else {
		want = size.bytes()
		if want < int64(minPoolSize) {
			want = int64(minPoolSize)
		}
		if err := f.Truncate(want); err != nil {
			f.Close()
			corelog.Fatal("pmem: cannot size pool file", err)
			return nil, fmt.Errorf("%w: %v", ErrPoolOpenFailed, err)
		}
	}

	region, err := mmap.MapRegion(f, int(want), mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		corelog.Fatal("pmem: cannot mmap pool file", err)
		return nil, fmt.Errorf("%w: %v", ErrPoolOpenFailed, err)
	}

	p := &Pool{
		file:      f,
		region:    region,
		base:      uintptr(unsafe.Pointer(&region[0])),
		SessionID: uuid.New(),
	}

	hdr := p.header()
	if !existed {
		p.created = true
		hdr.Magic = poolMagic
		copy(hdr.LayoutTag[:], LayoutName)
		hdr.CreatedAt = time.Now().UnixNano()
		p.resumeScratchJournal() // no-op on a fresh pool, kept for symmetry
		p.initRingBlocks()
		p.Flush(0, uintptr(headerRegionSize+ringRegionSize))
		p.Drain()
		log.Info().Str("path", path).Msg("created new pool")
	} else {
		if hdr.Magic != poolMagic || string(hdr.LayoutTag[:len(LayoutName)]) != LayoutName {
			p.Unmap()
			corelog.Fatal("pmem: pool magic/layout mismatch", nil)
			return nil, fmt.Errorf("%w: bad magic", ErrPoolOpenFailed)
		}
		p.resumeScratchJournal()
		log.Info().Str("path", path).Msg("opened existing pool")
	}

	return p, nil
}

func (p *Pool) header() *poolHeader {
	return (*poolHeader)(unsafe.Pointer(p.base))
}

// Root returns the pool's single persistent root record.
func (p *Pool) Root() *RootRecord {
	return &p.header().Root
}

// Base returns the host address the pool is mapped at, so NVM offsets
// can be translated to live pointers without ever persisting a host
// pointer.
func (p *Pool) Base() uintptr {
	return p.base
}

// BlockOffset returns the pool-relative offset of ring block i.
func BlockOffset(i int) uint64 {
	return uint64(ringRegionOffset + i*logBlockSize)
}

// BlockAt translates a pool-relative ring-block offset to a live
// pointer.
func (p *Pool) BlockAt(offset uint64) *LogBlock {
	return (*LogBlock)(unsafe.Pointer(p.base + uintptr(offset)))
}

// WordAt translates a pool-relative byte offset to a live *uint64,
// i.e. a transaction's NVM "home" address.
func (p *Pool) WordAt(offset uint64) *uint64 {
	return (*uint64)(unsafe.Pointer(p.base + uintptr(offset)))
}

// Size returns the mapped region length in bytes.
func (p *Pool) Size() int64 {
	return int64(len(p.region))
}

// Close flushes, drains, and unmaps the pool.
func (p *Pool) Close() error {
	p.Drain()
	return p.Unmap()
}

// Unmap releases the mapping without an additional drain (used during
// failed-open cleanup).
func (p *Pool) Unmap() error {
	err := p.region.Unmap()
	if cerr := p.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Package corepersist is the top-level persistence core the STM engine
// opens once per process: it wires the NVM pool adapter, the circular
// redo log, the combining table, the shadow page table, the group
// commit controller, and the measurement hooks behind the public API
// the rest of the engine drives.
package corepersist

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/nvmstm/dudetm/combine"
	"github.com/nvmstm/dudetm/commit"
	"github.com/nvmstm/dudetm/internal/corelog"
	"github.com/nvmstm/dudetm/measure"
	"github.com/nvmstm/dudetm/pmem"
	"github.com/nvmstm/dudetm/ring"
	"github.com/nvmstm/dudetm/shadowpage"
	"github.com/nvmstm/dudetm/vlog"
)

// Core is the engine's single persistence handle; no part of its state
// is process-global.
type Core struct {
	pool  *pmem.Pool
	ring  *ring.Ring
	table *combine.Table
	pages *shadowpage.Table
	ctrl  *commit.Controller
	hooks *measure.Hooks

	threads chan uint
}

// Open maps (or creates) the pool file at path, wires the engine, and
// drives recovery before returning. A failure to map the backing store
// is fatal: it is logged at Fatal severity and ErrPoolOpenFailed is
// returned to the immediate caller.
func Open(path string, opts Options) (*Core, error) {
	opts = opts.withDefaults()

	pool, err := pmem.OpenOrCreate(path, opts.poolSize())
	if err != nil {
		corelog.Fatal("corepersist: pool open failed", err)
		return nil, fmt.Errorf("corepersist: %w", ErrPoolOpenFailed)
	}

	r := ring.New(pool)
	table := combine.New()
	hooks := measure.New(opts.MeasurementEnabled)
	pages := shadowpage.New(opts.VPNNum, opts.PPNNum, func() uint64 {
		return pool.Root().ReproduceTimestamp
	})
	ctrl := commit.New(pool, r, table, hooks, opts.MaxUnpersistTx)

	threads := make(chan uint, shadowpage.MaxThreads)
	for i := uint(0); i < shadowpage.MaxThreads; i++ {
		threads <- i
	}

	c := &Core{pool: pool, ring: r, table: table, pages: pages, ctrl: ctrl, hooks: hooks, threads: threads}

	if err := c.ctrl.Recover(); err != nil {
		pool.Unmap()
		return nil, err
	}
	return c, nil
}

// Hooks exposes the measurement hooks, e.g. for the operator CLI's
// metrics server.
func (c *Core) Hooks() *measure.Hooks {
	return c.hooks
}

// Stats is a snapshot of the pool root's cursors, for operator tooling.
type Stats struct {
	PersistBlock, PersistOffset, PersistTimestamp       uint64
	ReproduceBlock, ReproduceOffset, ReproduceTimestamp uint64
}

// Stats reports the pool root's current cursor and timestamp fields.
func (c *Core) Stats() Stats {
	root := c.pool.Root()
	return Stats{
		PersistBlock:       root.PersistBlock,
		PersistOffset:      root.PersistOffset,
		PersistTimestamp:   root.PersistTimestamp,
		ReproduceBlock:     root.ReproduceBlock,
		ReproduceOffset:    root.ReproduceOffset,
		ReproduceTimestamp: root.ReproduceTimestamp,
	}
}

// Tx is one thread's transaction context: a compact thread index
// (<= 63) and the thread-local volatile log it accumulates writes
// into.
type Tx struct {
	core    *Core
	thread  uint
	log     vlog.Log
	started measure.Timer
}

// NewTx allocates (or reuses) a thread slot and a freshly initialized
// volatile log. Call Release when the thread is done transacting, to
// return the slot to the pool.
func (c *Core) NewTx() *Tx {
	thread := <-c.threads
	tx := &Tx{core: c, thread: thread, started: c.hooks.AfterTxStart()}
	tx.log.Init()
	return tx
}

// Release returns tx's thread slot to the pool. Not part of the
// spec's core API, but necessary for a long-running process with more
// than 63 logical threads over its lifetime.
func (tx *Tx) Release() {
	tx.core.threads <- tx.thread
}

func (tx *Tx) VLogInit() { tx.log.Init() }

func (tx *Tx) VLogAppend(addr, value uint64) { tx.log.Append(addr, value) }

func (tx *Tx) VLogOverwrite(index int, addr, value uint64) { tx.log.Overwrite(index, addr, value) }

func (tx *Tx) VLogReset() { tx.log.Reset() }

// PageUse translates nvAddr to its shadowing DRAM address, mapping the
// page if needed.
func (c *Core) PageUse(tx *Tx, nvAddr uint64) (unsafe.Pointer, error) {
	frame, err := c.pages.Use(tx.thread, nvAddr)
	if err != nil {
		return nil, err
	}
	offset := nvAddr % shadowpage.PageSize
	return unsafe.Pointer(&frame[offset]), nil
}

// PageRelease clears tx's use of the page shadowing nvAddr and records
// commitTS as the page's new touch_id, if larger than its current one.
func (c *Core) PageRelease(tx *Tx, nvAddr uint64, commitTS uint64) {
	c.pages.Release(tx.thread, nvAddr, commitTS)
}

// LogBeforeCommit absorbs tx's volatile log into the combining table
// and, once the group threshold is crossed, persists and reproduces it.
func (c *Core) LogBeforeCommit(tx *Tx, commitTS uint64) (flushed bool, err error) {
	flushed, err = c.ctrl.BeforeCommit(&tx.log, commitTS, tx.started)
	tx.log.Reset()
	return flushed, err
}

// NVLogRecord is the non-combining commit variant: it writes tx's
// entire volatile log as its own framed record, bypassing the
// combining table. On RING_FULL at any point in the record it drives
// reproduce_one to free capacity and retries the whole record, the
// same policy the group commit controller's persist loop uses.
func (c *Core) NVLogRecord(tx *Tx, commitTS uint64) error {
	for {
		savedBlock, savedOffset := c.ring.WriteCursor()
		restore := func() { c.ring.RestoreWriteCursor(savedBlock, savedOffset) }

		err := c.ring.AppendEntry(pmem.Entry{Addr: pmem.BeginSig, Data: uint64(tx.log.Num)}, ring.Begin)
		if err == nil {
			var appendErr error
			tx.log.Each(func(e vlog.Entry) {
				if appendErr != nil {
					return
				}
				appendErr = c.ring.AppendEntry(pmem.Entry{Addr: e.Addr, Data: e.Value}, ring.Data)
			})
			err = appendErr
		}
		if err == nil {
			err = c.ring.AppendEntry(pmem.Entry{Addr: pmem.EndSig, Data: commitTS}, ring.End)
		}
		if err == nil {
			c.ring.Drain()
			c.ring.PublishPersistCursor(commitTS)
			tx.log.Reset()
			return nil
		}

		restore()
		if !errors.Is(err, ring.ErrRingFull) {
			return err
		}
		if _, rerr := c.ctrl.ReproduceOne(); rerr != nil {
			return rerr
		}
	}
}

// NVLogSave drains every outstanding combined entry and closes the
// pool.
func (c *Core) NVLogSave() error {
	return c.ctrl.Save()
}

// Recover replays records between the reproduce and persist cursors.
// Open already calls this once; exposed for the CLI's inspect/recover
// tooling.
func (c *Core) Recover() error {
	return c.ctrl.Recover()
}

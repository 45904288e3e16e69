// Package commit implements the group commit controller: it wires the
// combining table, the circular NVM log, and the measurement hooks
// together into the before_commit / reproduce_one / save / recover
// operations the STM engine drives.
package commit

import (
	"errors"

	"github.com/nvmstm/dudetm/combine"
	"github.com/nvmstm/dudetm/internal/corelog"
	"github.com/nvmstm/dudetm/measure"
	"github.com/nvmstm/dudetm/pmem"
	"github.com/nvmstm/dudetm/ring"
	"github.com/nvmstm/dudetm/vlog"
)

// Controller drives group commit. It is invoked by transactions that
// already hold the engine's commit critical section — it performs no
// locking of its own over the table or the ring cursors.
type Controller struct {
	pool  *pmem.Pool
	ring  *ring.Ring
	table *combine.Table
	hooks *measure.Hooks

	// MaxUnpersistTx is the transactions-combined threshold that forces
	// a persist even before the table fills.
	MaxUnpersistTx int
}

// New builds a controller over an already-open pool, ring, and
// combining table. hooks may be nil, equivalent to disabled hooks.
func New(pool *pmem.Pool, r *ring.Ring, table *combine.Table, hooks *measure.Hooks, maxUnpersistTx int) *Controller {
	c := &Controller{pool: pool, ring: r, table: table, hooks: hooks, MaxUnpersistTx: maxUnpersistTx}
	if hooks != nil {
		r.SetFlushHook(hooks.BeforeFlush)
	}
	return c
}

// BeforeCommit absorbs tx's volatile log into the combining table and,
// once the group has grown large enough, persists it to the ring. It
// reports whether this call actually flushed a group, for measurement.
func (c *Controller) BeforeCommit(log *vlog.Log, commitTS uint64, started measure.Timer) (flushed bool, err error) {
	if c.hooks != nil {
		c.hooks.BeforeLogCombine(log.Num)
	}

	c.table.Absorb(log)
	c.table.MaxTimestamp = commitTS

	shouldFlush := c.table.TxCombined >= c.MaxUnpersistTx || c.table.DistinctEntries >= pmem.NVEntryCount-2
	groupSize := c.table.DistinctEntries
	if shouldFlush {
		if err := c.persistLoop(); err != nil {
			return false, err
		}
		c.table.Clean()
		if !c.ring.AtEnd() {
			if _, err := c.ReproduceOne(); err != nil {
				return false, err
			}
		}
		flushed = true
	}

	if c.hooks != nil {
		c.hooks.BeforeCommit(flushed, groupSize, started)
	}
	return flushed, nil
}

// persistLoop calls Persist, running ReproduceOne to free ring capacity
// each time it reports RingFull, until the group is durably written.
func (c *Controller) persistLoop() error {
	for {
		err := c.table.Persist(c.ring)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ring.ErrRingFull) {
			return err
		}
		if _, err := c.ReproduceOne(); err != nil {
			return err
		}
	}
}

// ReproduceOne applies the next framed record from the ring to its NVM
// home addresses and advances the reproduce cursor. It reports false
// with a nil error when there is nothing left to reproduce.
func (c *Controller) ReproduceOne() (bool, error) {
	if c.ring.AtEnd() {
		return false, nil
	}

	begin := c.ring.ConsumeEntry()
	if begin.Addr != pmem.BeginSig {
		corelog.Fatal("reproduce: missing BEGIN sentinel", ring.ErrLogCorrupt)
		return false, ring.ErrLogCorrupt
	}
	length := begin.Data

	for i := uint64(0); i < length; i++ {
		e := c.ring.ConsumeEntry()
		*c.pool.WordAt(e.Addr) = e.Data
		c.pool.Flush(uintptr(e.Addr), 8)
	}
	c.ring.Drain()

	end := c.ring.ConsumeEntry()
	if end.Addr != pmem.EndSig {
		corelog.Fatal("reproduce: missing END sentinel", ring.ErrLogCorrupt)
		return false, ring.ErrLogCorrupt
	}
	commitTS := end.Data
	c.ring.PublishReproduceCursor(commitTS)
	return true, nil
}

// Save drains every outstanding combined entry — persisting and
// reproducing until the table and ring are both empty — then closes
// the pool.
func (c *Controller) Save() error {
	for c.table.DistinctEntries > 0 {
		if err := c.persistLoop(); err != nil {
			return err
		}
		c.table.Clean()
	}
	for !c.ring.AtEnd() {
		if _, err := c.ReproduceOne(); err != nil {
			return err
		}
	}
	return c.pool.Close()
}

// Recover replays every framed record between the reproduce and
// persist cursors, driven at open time.
func (c *Controller) Recover() error {
	root := c.pool.Root()
	for root.PersistTimestamp > root.ReproduceTimestamp {
		applied, err := c.ReproduceOne()
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
	}
	return nil
}

// Package combine implements the process-wide log-combining table: a
// hashed coalescer that merges many transactions' writes into a single
// address-sorted, duplicate-free durable record per group commit.
package combine

import (
	"sort"

	"github.com/nvmstm/dudetm/pmem"
	"github.com/nvmstm/dudetm/ring"
	"github.com/nvmstm/dudetm/vlog"
)

// Size is the number of buckets in the table (2^20, per the data
// model). Bucket chains are kept sorted by address ascending.
const Size = 1 << 20

type node struct {
	addr  uint64
	value uint64
	next  *node
}

// Table is the shared combining table. It is not safe for concurrent
// mutation on its own — callers serialize access through the group
// commit controller's commit critical section, per the concurrency
// model.
type Table struct {
	buckets []*node

	// modifiedIndices lists buckets touched since the last Clean, each
	// appended exactly once, the first time an entry lands in a bucket
	// that was previously empty.
	modifiedIndices []int

	// DistinctEntries counts live (addr, value) pairs in the table;
	// incremented only on insertion, never on update.
	DistinctEntries int
	// TxCombined counts transactions absorbed since the last Clean.
	TxCombined int
	// MaxTimestamp is the largest commit timestamp absorbed into the
	// table since the last Clean. Absorb does not set it; the group
	// commit controller assigns each committing transaction's timestamp
	// after Absorb, and since the engine assigns commit timestamps
	// monotonically, that plain assignment tracks the running maximum.
	MaxTimestamp uint64
}

// New allocates an empty combining table.
func New() *Table {
	return &Table{buckets: make([]*node, Size)}
}

// bucketIndex selects a bucket from bits [3 : 3+log2(Size)) of addr, as
// specified; substitutable for a better hash without changing the
// external contract (§9 Open Questions).
func bucketIndex(addr uint64) int {
	const shift = 3
	return int((addr >> shift) & (Size - 1))
}

// Absorb walks tx's volatile log in encounter order and folds each
// (addr, value) into the table, keeping the latest value per address.
// Duplicate addresses collapse; only the first insertion into a given
// address increments DistinctEntries.
func (t *Table) Absorb(log *vlog.Log) {
	log.Each(func(e vlog.Entry) {
		t.put(e.Addr, e.Value)
	})
	t.TxCombined++
}

func (t *Table) put(addr, value uint64) {
	idx := bucketIndex(addr)
	head := t.buckets[idx]

	if head == nil {
		t.buckets[idx] = &node{addr: addr, value: value}
		t.modifiedIndices = append(t.modifiedIndices, idx)
		t.DistinctEntries++
		return
	}

	var prev *node
	cur := head
	for cur != nil && cur.addr < addr {
		prev = cur
		cur = cur.next
	}
	if cur != nil && cur.addr == addr {
		cur.value = value // newer value wins; no count change
		return
	}

	n := &node{addr: addr, value: value, next: cur}
	if prev == nil {
		t.buckets[idx] = n
	} else {
		prev.next = n
	}
	t.DistinctEntries++
}

// Persist writes one framed record to the NVM ring containing the
// table's current contents in (bucket-ascending, address-ascending)
// order, using MaxTimestamp as the record's commit timestamp. Returns
// ring.ErrRingFull, leaving the ring's write cursor exactly where it
// was before this call, if there is not enough ring capacity.
func (t *Table) Persist(r *ring.Ring) error {
	if t.DistinctEntries == 0 {
		return nil
	}

	savedBlock, savedOffset := r.WriteCursor()

	fail := func(err error) error {
		r.RestoreWriteCursor(savedBlock, savedOffset)
		return err
	}

	begin := pmem.Entry{Addr: pmem.BeginSig, Data: uint64(t.DistinctEntries)}
	if err := r.AppendEntry(begin, ring.Begin); err != nil {
		return fail(err)
	}

	written := 0
	for _, idx := range t.sortedIndices() {
		for n := t.buckets[idx]; n != nil; n = n.next {
			if err := r.AppendEntry(pmem.Entry{Addr: n.addr, Data: n.value}, ring.Data); err != nil {
				return fail(err)
			}
			written++
		}
	}

	end := pmem.Entry{Addr: pmem.EndSig, Data: t.MaxTimestamp}
	if err := r.AppendEntry(end, ring.End); err != nil {
		return fail(err)
	}

	r.Drain()
	r.PublishPersistCursor(t.MaxTimestamp)
	return nil
}

// sortedIndices returns the distinct bucket indices touched since the
// last Clean, in ascending order.
func (t *Table) sortedIndices() []int {
	seen := make(map[int]bool, len(t.modifiedIndices))
	out := make([]int, 0, len(t.modifiedIndices))
	for _, idx := range t.modifiedIndices {
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

// Clean frees all bucket chains touched since the last Clean and resets
// the group counters.
func (t *Table) Clean() {
	for _, idx := range t.modifiedIndices {
		t.buckets[idx] = nil
	}
	t.modifiedIndices = t.modifiedIndices[:0]
	t.DistinctEntries = 0
	t.TxCombined = 0
	t.MaxTimestamp = 0
}

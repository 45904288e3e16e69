// Package vlog is the append-only, thread-local volatile log each
// transaction accumulates its (address, value) writes into, in
// encounter order, before they are absorbed into the combining table.
package vlog

// Capacity is the number of entries per chained block (V=15 per the
// data model).
const Capacity = 15

// Entry is one recorded write.
type Entry struct {
	Addr  uint64
	Value uint64
}

type block struct {
	entries [Capacity]Entry
	next    *block
}

// Log is one transaction's volatile write-set log: a singly-chained
// list of fixed-capacity blocks. Entries are appended in encounter
// order and never reordered; Overwrite patches an existing entry in
// place by its write-set index.
type Log struct {
	head *block
	tail *block
	// Num is the total number of valid entries across the whole chain.
	Num int
}

// Init allocates the log's first block. Safe to call again on a reused,
// already-Reset log — it is a no-op once head is non-nil.
func (l *Log) Init() {
	if l.head != nil {
		return
	}
	b := &block{}
	l.head = b
	l.tail = b
	l.Num = 0
}

// Append records a new write at the tail of the log, growing the chain
// by one block when the current tail is full. No coalescing happens at
// this layer — duplicate addresses are recorded as separate entries and
// resolved later by the combining table.
func (l *Log) Append(addr, value uint64) {
	pos := l.Num % Capacity
	if l.Num > 0 && pos == 0 {
		if l.tail.next == nil {
			l.tail.next = &block{}
		}
		l.tail = l.tail.next
	}
	l.tail.entries[pos] = Entry{Addr: addr, Value: value}
	l.Num++
}

// Overwrite patches the entry at index in place. The caller (the
// read/write barrier) is trusted to supply an index it obtained from
// its own write-set map; bounds are 0 <= index < Num.
func (l *Log) Overwrite(index int, addr, value uint64) {
	if index < 0 || index >= l.Num {
		panic("vlog: overwrite index out of bounds")
	}
	blockIdx := index / Capacity
	b := l.head
	for i := 0; i < blockIdx; i++ {
		b = b.next
	}
	b.entries[index%Capacity] = Entry{Addr: addr, Value: value}
}

// Reset discards all entries without freeing the chain's blocks, so the
// same allocation can serve the thread's next transaction. The tail
// cursor rewinds to the head so the next Append starts writing there
// again, matching Each/Absorb always walking from the head.
func (l *Log) Reset() {
	l.Num = 0
	l.tail = l.head
}

// Each walks the log's entries in encounter order.
func (l *Log) Each(fn func(Entry)) {
	b := l.head
	remaining := l.Num
	for b != nil && remaining > 0 {
		n := Capacity
		if remaining < n {
			n = remaining
		}
		for i := 0; i < n; i++ {
			fn(b.entries[i])
		}
		remaining -= n
		b = b.next
	}
}

package combine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvmstm/dudetm/pmem"
	"github.com/nvmstm/dudetm/ring"
	"github.com/nvmstm/dudetm/vlog"
)

func newTestRing(t *testing.T) *ring.Ring {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pool.dudetm")
	pool, err := pmem.OpenOrCreate(path, pmem.Small)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return ring.New(pool)
}

func TestAbsorbCoalescesDuplicateAddresses(t *testing.T) {
	tab := New()

	var l1 vlog.Log
	l1.Init()
	l1.Append(0x10, 1)
	l1.Append(0x20, 2)
	tab.Absorb(&l1)

	var l2 vlog.Log
	l2.Init()
	l2.Append(0x10, 99) // overwrites tx1's write to the same address
	l2.Append(0x30, 3)
	tab.Absorb(&l2)

	require.Equal(t, 3, tab.DistinctEntries)
	require.Equal(t, 2, tab.TxCombined)

	got := map[uint64]uint64{}
	for _, idx := range tab.sortedIndices() {
		for n := tab.buckets[idx]; n != nil; n = n.next {
			got[n.addr] = n.value
		}
	}
	require.Equal(t, uint64(99), got[0x10])
	require.Equal(t, uint64(2), got[0x20])
	require.Equal(t, uint64(3), got[0x30])
}

func TestAbsorbIsIdempotentForModifiedIndices(t *testing.T) {
	tab := New()
	var l vlog.Log
	l.Init()
	l.Append(0x10, 1)
	l.Append(0x10, 2) // same address twice within one tx's log
	tab.Absorb(&l)

	// The bucket should only have been recorded once in modifiedIndices
	// even though it absorbed two entries for the same address.
	idx := bucketIndex(0x10)
	count := 0
	for _, i := range tab.modifiedIndices {
		if i == idx {
			count++
		}
	}
	require.Equal(t, 1, count)
	require.Equal(t, 1, tab.DistinctEntries)
}

func TestPersistWritesSortedFramedRecord(t *testing.T) {
	r := newTestRing(t)
	tab := New()

	var l vlog.Log
	l.Init()
	l.Append(0x30, 3)
	l.Append(0x10, 1)
	l.Append(0x20, 2)
	tab.Absorb(&l)
	tab.MaxTimestamp = 5

	require.NoError(t, tab.Persist(r))

	begin := r.ConsumeEntry()
	require.Equal(t, pmem.BeginSig, begin.Addr)
	require.EqualValues(t, 3, begin.Data)

	var addrs []uint64
	for i := 0; i < 3; i++ {
		e := r.ConsumeEntry()
		addrs = append(addrs, e.Addr)
	}
	// Ordering is bucket-ascending then address-ascending; with this
	// bucket-index formula, distinct low addresses land in distinct
	// buckets in address order.
	require.Equal(t, []uint64{0x10, 0x20, 0x30}, addrs)

	end := r.ConsumeEntry()
	require.Equal(t, pmem.EndSig, end.Addr)
	require.Equal(t, uint64(5), end.Data)
}

func TestCleanResetsGroupState(t *testing.T) {
	tab := New()
	var l vlog.Log
	l.Init()
	l.Append(0x40, 4)
	tab.Absorb(&l)
	tab.MaxTimestamp = 9

	tab.Clean()

	require.Equal(t, 0, tab.DistinctEntries)
	require.Equal(t, 0, tab.TxCombined)
	require.Equal(t, uint64(0), tab.MaxTimestamp)
	require.Empty(t, tab.modifiedIndices)
	require.Nil(t, tab.buckets[bucketIndex(0x40)])
}

func TestPersistOnEmptyTableIsNoOp(t *testing.T) {
	r := newTestRing(t)
	tab := New()
	require.NoError(t, tab.Persist(r))
	require.True(t, r.AtEnd())
}

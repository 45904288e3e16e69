package ring

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvmstm/dudetm/pmem"
)

func newTestPool(t *testing.T) *pmem.Pool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pool.dudetm")
	p, err := pmem.OpenOrCreate(path, pmem.Small)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestAppendAndConsumeOneRecord(t *testing.T) {
	pool := newTestPool(t)
	r := New(pool)

	require.NoError(t, r.AppendEntry(pmem.Entry{Addr: pmem.BeginSig, Data: 2}, Begin))
	require.NoError(t, r.AppendEntry(pmem.Entry{Addr: 0x1000, Data: 42}, Data))
	require.NoError(t, r.AppendEntry(pmem.Entry{Addr: 0x2000, Data: 43}, Data))
	require.NoError(t, r.AppendEntry(pmem.Entry{Addr: pmem.EndSig, Data: 7}, End))
	r.Drain()
	r.PublishPersistCursor(7)

	begin := r.ConsumeEntry()
	require.Equal(t, pmem.BeginSig, begin.Addr)
	require.Equal(t, uint64(2), begin.Data)

	d1 := r.ConsumeEntry()
	require.Equal(t, uint64(0x1000), d1.Addr)
	d2 := r.ConsumeEntry()
	require.Equal(t, uint64(0x2000), d2.Addr)

	end := r.ConsumeEntry()
	require.Equal(t, pmem.EndSig, end.Addr)
	require.Equal(t, uint64(7), end.Data)

	r.PublishReproduceCursor(7)
	require.True(t, r.AtEnd())
	require.Equal(t, uint64(7), pool.Root().PersistTimestamp)
	require.Equal(t, uint64(7), pool.Root().ReproduceTimestamp)
}

func TestRecordSpansMultipleBlocks(t *testing.T) {
	pool := newTestPool(t)
	r := New(pool)

	n := pmem.NVEntryCount*2 + 5 // guarantees at least two block rollovers
	require.NoError(t, r.AppendEntry(pmem.Entry{Addr: pmem.BeginSig, Data: uint64(n)}, Begin))
	for i := 0; i < n; i++ {
		require.NoError(t, r.AppendEntry(pmem.Entry{Addr: uint64(i + 1), Data: uint64(i * 10)}, Data))
	}
	require.NoError(t, r.AppendEntry(pmem.Entry{Addr: pmem.EndSig, Data: 99}, End))
	r.Drain()

	begin := r.ConsumeEntry()
	require.Equal(t, pmem.BeginSig, begin.Addr)
	require.EqualValues(t, n, begin.Data)
	for i := 0; i < n; i++ {
		e := r.ConsumeEntry()
		require.Equal(t, uint64(i+1), e.Addr)
	}
	end := r.ConsumeEntry()
	require.Equal(t, pmem.EndSig, end.Addr)
}

func TestAppendEntryReturnsRingFullAndRestoresOnOverflow(t *testing.T) {
	pool := newTestPool(t)
	r := New(pool)

	// Fill the ring to within one block of the reader, then attempt to
	// cross into the reader's block.
	capacity := pmem.RingBlockCount * pmem.NVEntryCount
	var err error
	i := 0
	for ; i < capacity; i++ {
		state := Data
		if i == 0 {
			state = Begin
		}
		err = r.AppendEntry(pmem.Entry{Addr: uint64(i + 1), Data: uint64(i)}, state)
		if err != nil {
			break
		}
	}
	require.ErrorIs(t, err, ErrRingFull)

	savedBlock, savedOffset := r.writeBlock, r.writeOffset
	// A retry of the same append must still fail identically (cursor
	// was left untouched by the failed attempt).
	err2 := r.AppendEntry(pmem.Entry{Addr: uint64(i + 1), Data: 0}, Data)
	require.ErrorIs(t, err2, ErrRingFull)
	require.Equal(t, savedBlock, r.writeBlock)
	require.Equal(t, savedOffset, r.writeOffset)
}

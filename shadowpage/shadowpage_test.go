package shadowpage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func alwaysReproduced() uint64 { return ^uint64(0) }

func TestUseMapsAndReturnsDistinctFrames(t *testing.T) {
	tab := New(4, 2, alwaysReproduced)

	f0, err := tab.Use(0, 0)
	require.NoError(t, err)
	f1, err := tab.Use(0, PageSize)
	require.NoError(t, err)

	f0[0] = 0xAB
	require.NotEqual(t, f0[0], f1[0])
}

func TestUseIsIdempotentForSameThreadAndPage(t *testing.T) {
	tab := New(2, 2, alwaysReproduced)

	f1, err := tab.Use(3, 0x100)
	require.NoError(t, err)
	f2, err := tab.Use(3, 0x100)
	require.NoError(t, err)

	f1[10] = 7
	require.Equal(t, byte(7), f2[10])
}

func TestReleaseAllowsFrameReuseWhenPoolExhausted(t *testing.T) {
	tab := New(4, 1, alwaysReproduced)

	_, err := tab.Use(0, 0) // vpn 0, occupies the only frame
	require.NoError(t, err)

	_, err = tab.Use(1, PageSize) // vpn 1, no free frame, still in use
	require.ErrorIs(t, err, ErrNeedsReproduce)

	tab.Release(0, 0, 1)

	_, err = tab.Use(1, PageSize)
	require.NoError(t, err)
}

// TestEvictionOfUnreproducedVictimStillSucceedsForOtherVPN covers spec
// scenario 4: the touch_id barrier gates mapping the VPN being mapped,
// not the victim frame being evicted on its behalf. So a victim (vpn 0)
// with a touch_id ahead of reproduce_timestamp does not block a
// different VPN (vpn 1, whose own touch_id is still 0) from evicting
// vpn 0's unused, valid frame and mapping successfully.
func TestEvictionOfUnreproducedVictimStillSucceedsForOtherVPN(t *testing.T) {
	ts := uint64(0)
	clock := func() uint64 { return ts }
	tab := New(4, 1, clock)

	_, err := tab.Use(0, 0) // vpn 0 occupies the sole frame
	require.NoError(t, err)
	tab.Release(0, 0, 5) // touch_id(vpn 0) is now 5, ahead of reproduce_timestamp

	_, err = tab.Use(1, PageSize) // evicts vpn 0's frame; vpn 1's own touch_id is 0
	require.NoError(t, err)
}

// TestNeedsReproduceBarrierBlocksRemappingEvictedUnreproducedPage covers
// the barrier's actual gate: once vpn 0's frame is reclaimed while its
// touch_id (5) is still ahead of reproduce_timestamp, re-mapping vpn 0
// itself must fail until reproduce catches up — otherwise its
// unreproduced write would be silently dropped.
func TestNeedsReproduceBarrierBlocksRemappingEvictedUnreproducedPage(t *testing.T) {
	ts := uint64(0)
	clock := func() uint64 { return ts }
	tab := New(4, 1, clock)

	_, err := tab.Use(0, 0) // vpn 0 occupies the sole frame
	require.NoError(t, err)
	tab.Release(0, 0, 5) // touch_id(vpn 0) is now 5

	_, err = tab.Use(1, PageSize) // evicts vpn 0's frame to map vpn 1
	require.NoError(t, err)
	tab.Release(1, PageSize, 0) // unpin the sole frame so only the barrier can refuse

	_, err = tab.Use(2, 0) // re-mapping vpn 0 before reproduce catches up
	require.ErrorIs(t, err, ErrNeedsReproduce)

	ts = 5 // reproduce has caught up
	_, err = tab.Use(2, 0)
	require.NoError(t, err)
}

func TestPageUniquenessAcrossConcurrentUsers(t *testing.T) {
	tab := New(2, 2, alwaysReproduced)

	f1, err := tab.Use(0, 0)
	require.NoError(t, err)
	f2, err := tab.Use(1, 0)
	require.NoError(t, err)

	// Same VPN, same thread-independent mapping: both callers see the
	// same underlying frame, never two distinct frames for one page.
	f1[0] = 42
	require.Equal(t, byte(42), f2[0])

	tab.Release(0, 0, 1)
	tab.Release(1, 0, 2)
}

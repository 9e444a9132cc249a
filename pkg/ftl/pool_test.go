package ftl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolGetBlockReservesHeadroomForAppendPoints(t *testing.T) {
	registerMetrics()
	// 3 blocks, no over-provision: with 2 append points, a non-GC
	// getBlock is refused once the free count is already below nrAPs.
	p := newPool(0, 0, 3, 4, 1, 0, false)
	require.Equal(t, 3, p.NrFreeBlocks())

	b1, err := p.getBlock(false, 2)
	require.NoError(t, err)
	require.NotNil(t, b1)
	require.Equal(t, 2, p.NrFreeBlocks())

	b2, err := p.getBlock(false, 2)
	require.NoError(t, err)
	require.NotNil(t, b2)
	require.Equal(t, 1, p.NrFreeBlocks())

	// Free count (1) is now below nrAPs (2): the next non-GC request
	// must be refused to preserve AP headroom.
	_, err = p.getBlock(false, 2)
	require.Error(t, err)
	require.True(t, IsExhausted(err))
	require.Equal(t, 1, p.NrFreeBlocks())

	// A GC request is not subject to the headroom reservation.
	b3, err := p.getBlock(true, 2)
	require.NoError(t, err)
	require.NotNil(t, b3)
	require.Equal(t, 0, p.NrFreeBlocks())
}

func TestPoolGetBlockExhaustion(t *testing.T) {
	registerMetrics()
	p := newPool(0, 0, 1, 4, 1, 0, false)

	b, err := p.getBlock(true, 0)
	require.NoError(t, err)
	require.NotNil(t, b)

	_, err = p.getBlock(true, 0)
	require.Error(t, err)
	require.True(t, IsExhausted(err))
}

func TestPoolPutBlockRecyclesAndClearsPrio(t *testing.T) {
	registerMetrics()
	p := newPool(0, 0, 2, 4, 1, 0, false)

	b, err := p.getBlock(false, 0)
	require.NoError(t, err)
	p.promoteToPrio(b)
	require.Len(t, p.PrioList(), 1)

	p.putBlock(b)
	require.Empty(t, p.PrioList())
	require.Equal(t, 2, p.NrFreeBlocks())
}

func TestPoolOverProvisionBlocksNeverEnterFreeList(t *testing.T) {
	registerMetrics()
	p := newPool(0, 0, 5, 4, 1, 2, false)
	require.Equal(t, 3, p.NrFreeBlocks())
}

func TestPoolWaitingQueueSequencing(t *testing.T) {
	registerMetrics()
	p := newPool(0, 0, 2, 4, 1, 0, true)

	w1 := &RequestWrapper{}
	w2 := &RequestWrapper{}

	mustSchedule := p.enqueueWaiting(w1)
	require.True(t, mustSchedule)

	// A second concurrent enqueue while the pool is already active must
	// not report that the caller has to schedule another worker.
	mustSchedule = p.enqueueWaiting(w2)
	require.False(t, mustSchedule)

	got := p.nextWaiting()
	require.Same(t, w1, got)
	require.Same(t, w1, p.CurBio())

	more := p.finishCurBio()
	require.True(t, more)

	got = p.nextWaiting()
	require.Same(t, w2, got)

	more = p.finishCurBio()
	require.False(t, more)

	// With the queue empty, the next enqueue must report mustSchedule
	// again, since is_active was reset to zero.
	w3 := &RequestWrapper{}
	got = p.nextWaiting()
	require.Nil(t, got)
	mustSchedule = p.enqueueWaiting(w3)
	require.True(t, mustSchedule)
}

package ftl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockAllocPhysAdvancesAndFills(t *testing.T) {
	b := newBlock(0, 0, 4, 2) // 4 host pages per block, 2 per flash page
	b.reset()
	b.activate()

	addr, ok := b.allocPhys(100, nil)
	require.True(t, ok)
	require.Equal(t, PhysAddr(100), addr)

	addr, ok = b.allocPhys(100, nil)
	require.True(t, ok)
	require.Equal(t, PhysAddr(101), addr)

	addr, ok = b.allocPhys(100, nil)
	require.True(t, ok)
	require.Equal(t, PhysAddr(102), addr)

	addr, ok = b.allocPhys(100, nil)
	require.True(t, ok)
	require.Equal(t, PhysAddr(103), addr)

	// The block is now full.
	_, ok = b.allocPhys(100, nil)
	require.False(t, ok)
	require.True(t, b.isFull())
}

func TestBlockAllocPhysSpecialSkipsRejectedPages(t *testing.T) {
	b := newBlock(0, 0, 4, 1)
	b.reset()
	b.activate()

	special := func(_ *Block, addr PhysAddr) bool {
		return addr == 1 // reject the second page
	}

	first, ok := b.allocPhys(0, special)
	require.True(t, ok)
	require.Equal(t, PhysAddr(0), first)

	second, ok := b.allocPhys(0, special)
	require.True(t, ok)
	require.Equal(t, PhysAddr(2), second) // skipped 1

	third, ok := b.allocPhys(0, special)
	require.True(t, ok)
	require.Equal(t, PhysAddr(3), third)

	_, ok = b.allocPhys(0, special)
	require.False(t, ok)
}

func TestBlockInvalidateDoublePanicsAsInvariantError(t *testing.T) {
	registerMetrics()
	b := newBlock(0, 0, 4, 1)
	b.reset()

	b.invalidateBlockPage(0)
	require.Equal(t, 1, b.NrInvalidPages())

	require.PanicsWithError(t, "block 0: invalidating offset 0: bitmap: bit already set", func() {
		b.invalidateBlockPage(0)
	})
}

func TestBlockCommitHostPageReleasesStagingBufferOnceFull(t *testing.T) {
	b := newBlock(0, 0, 2, 1)
	b.reset()
	b.activate()

	b.stageHostPage(0, []byte{1})
	require.True(t, b.HasStagingBuffer())

	fullyCommitted := b.commitHostPage()
	require.False(t, fullyCommitted)
	require.True(t, b.HasStagingBuffer())

	fullyCommitted = b.commitHostPage()
	require.True(t, fullyCommitted)
	require.False(t, b.HasStagingBuffer())
}

func TestBlockFlashPagePayloadGroupsHostPages(t *testing.T) {
	b := newBlock(0, 0, 4, 2)
	b.reset()
	b.activate()

	b.stageHostPage(0, []byte{0xAA})
	b.stageHostPage(1, []byte{0xBB})
	b.stageHostPage(2, []byte{0xCC})
	b.stageHostPage(3, []byte{0xDD})

	flash0 := b.flashPagePayload(0)
	require.Len(t, flash0, 2)
	require.Equal(t, []byte{0xAA}, flash0[0])
	require.Equal(t, []byte{0xBB}, flash0[1])

	flash1 := b.flashPagePayload(3)
	require.Len(t, flash1, 2)
	require.Equal(t, []byte{0xCC}, flash1[0])
	require.Equal(t, []byte{0xDD}, flash1[1])
}

func TestBlockSetAPAndIndex(t *testing.T) {
	b := newBlock(5, 1, 4, 1)
	require.Equal(t, BlockIndex(5), b.Index())
	require.Equal(t, NoAP, b.AP())

	b.setAP(2)
	require.Equal(t, APIndex(2), b.AP())
}

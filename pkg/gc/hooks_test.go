package gc_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/VazKrishnan/lightnvm/pkg/ftl"
	"github.com/VazKrishnan/lightnvm/pkg/gc"
)

type fakeDevice struct {
	mu   sync.Mutex
	data map[uint64][]byte
}

func newFakeDevice() *fakeDevice { return &fakeDevice{data: make(map[uint64][]byte)} }

func (d *fakeDevice) Submit(w *ftl.RequestWrapper) {
	go func() {
		sector := w.DeviceSector()
		if w.Direction() == ftl.DirWrite {
			buf := append([]byte(nil), w.Payload()...)
			d.mu.Lock()
			d.data[sector] = buf
			d.mu.Unlock()
			w.Done(nil)
			return
		}
		d.mu.Lock()
		stored, ok := d.data[sector]
		d.mu.Unlock()
		if ok {
			copy(w.Payload(), stored)
		}
		w.Done(nil)
	}()
}

func writeSync(t *testing.T, f *ftl.FTL, sector uint64, payload []byte) ftl.WriteResult {
	t.Helper()
	done := make(chan error, 1)
	req := &ftl.Request{Sector: sector, Dir: ftl.DirWrite, Payload: payload, Complete: func(_ *ftl.Request, err error) { done <- err }}
	result, err := f.Write(req, ftl.WriteOpts{Map: ftl.MapPrimary})
	require.NoError(t, err)
	if result == ftl.WriteSuccess {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for write completion")
		}
	}
	return result
}

func readSync(t *testing.T, f *ftl.FTL, sector uint64, payload []byte) {
	t.Helper()
	done := make(chan error, 1)
	req := &ftl.Request{Sector: sector, Dir: ftl.DirRead, Payload: payload, Complete: func(_ *ftl.Request, err error) { done <- err }}
	require.NoError(t, f.Read(req))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for read completion")
	}
}

// fillBlock writes n fresh logical addresses, starting at startSector,
// waiting for each write to complete. With a single AP they land in
// order in the AP's current block, which is promoted to the prio list
// once all its pages have committed; a fresh block is pulled from the
// pool whenever the current one is full.
func fillBlock(t *testing.T, f *ftl.FTL, startSector uint64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		sector := startSector + uint64(i)
		result := writeSync(t, f, sector, []byte{byte(i + 1)})
		require.Equal(t, ftl.WriteSuccess, result)
	}
}

func TestCollectorRelocatesLivePagesAndFreesBlock(t *testing.T) {
	cfg := ftl.Config{
		NoWaits:                    true,
		NumAppendPoints:            1,
		NumPages:                   8,
		BlocksPerPool:              3,
		HostPagesPerBlock:          2,
		HostPagesPerFlashPage:      1,
		SectorsPerHostPage:         1,
		OverProvisionBlocksPerPool: 0,
		RequestPoolSize:            32,
	}
	f, err := ftl.NewFTL(cfg, newFakeDevice(), nil)
	require.NoError(t, err)
	defer f.Close()

	// Fill the first block (sectors 0,1), invalidate sector 0 with an
	// overwrite so only sector 1's page is still live in it, then write
	// two more fresh sectors so a second block also fills up. A third
	// block is available so none of this needs GC to make progress.
	fillBlock(t, f, 0, 2)
	writeSync(t, f, 0, []byte{0xFF}) // overwrite: invalidates the original page at sector 0
	fillBlock(t, f, 2, 2)

	prio := f.Pool(0).PrioList()
	require.NotEmpty(t, prio, "at least one fully-committed block should be GC-eligible")
	target := prio[0]

	collector := gc.New(f)
	collector.SelectBlock = func(*ftl.FTL) *ftl.Block { return target }
	collector.Collect()

	// The reclaimed block must be back in the free list: all three blocks
	// were taken, and the relocation write fit in the current block.
	require.Equal(t, 1, f.Pool(0).NrFreeBlocks())
	found := false
	for _, b := range f.Pool(0).PrioList() {
		if b.Index() == target.Index() {
			found = true
		}
	}
	require.False(t, found, "reclaimed block must leave the prio list")

	// Sector 1 was the only logical address still live in the reclaimed
	// block; it must read back correctly after relocation. Sector 0's
	// overwrite lives in another block and must be unaffected.
	readback := make([]byte, 1)
	readSync(t, f, 1, readback)
	require.Equal(t, byte(2), readback[0])
	readSync(t, f, 0, readback)
	require.Equal(t, byte(0xFF), readback[0])
}

func TestCollectorIsNoOpWhenNothingEligible(t *testing.T) {
	cfg := ftl.Config{
		NoWaits:                    true,
		NumAppendPoints:            1,
		NumPages:                   4,
		BlocksPerPool:              2,
		HostPagesPerBlock:          2,
		HostPagesPerFlashPage:      1,
		SectorsPerHostPage:         1,
		OverProvisionBlocksPerPool: 0,
		RequestPoolSize:            32,
	}
	f, err := ftl.NewFTL(cfg, newFakeDevice(), nil)
	require.NoError(t, err)
	defer f.Close()

	collector := gc.New(f)
	require.NotPanics(t, func() { collector.Collect() })
}

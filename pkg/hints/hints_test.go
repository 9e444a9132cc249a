package hints_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/VazKrishnan/lightnvm/pkg/ftl"
	"github.com/VazKrishnan/lightnvm/pkg/hints"
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

func TestAvoidSetForcesAllocatorPastMarkedPage(t *testing.T) {
	cfg := ftl.Config{
		NoWaits:                    true,
		NumAppendPoints:            1,
		NumPages:                   4,
		BlocksPerPool:              1,
		HostPagesPerBlock:          4,
		HostPagesPerFlashPage:      1,
		SectorsPerHostPage:         1,
		OverProvisionBlocksPerPool: 0,
		RequestPoolSize:            16,
	}

	avoid := hints.NewAvoidSet()
	// The very first physical page (address 0) of the only block is
	// off-limits; the allocator must step past it to address 1.
	avoid.Mark(0)

	f, err := ftl.NewFTL(cfg, newFakeDevice(), hints.NewType(avoid))
	require.NoError(t, err)
	defer f.Close()

	done := make(chan error, 1)
	req := &ftl.Request{Sector: 0, Dir: ftl.DirWrite, Payload: []byte{7}, Complete: func(_ *ftl.Request, err error) { done <- err }}
	result, err := f.Write(req, ftl.WriteOpts{Map: ftl.MapPrimary})
	require.NoError(t, err)
	require.Equal(t, ftl.WriteSuccess, result)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write completion")
	}

	// The write landed on address 1, not on the marked address 0.
	re, live := f.ReverseLookup(1)
	require.True(t, live)
	require.Equal(t, ftl.LogAddr(0), re.Logical)
	_, live = f.ReverseLookup(0)
	require.False(t, live)

	readback := make([]byte, 1)
	rdone := make(chan error, 1)
	rreq := &ftl.Request{Sector: 0, Dir: ftl.DirRead, Payload: readback, Complete: func(_ *ftl.Request, err error) { rdone <- err }}
	require.NoError(t, f.Read(rreq))
	select {
	case err := <-rdone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for read completion")
	}
	require.Equal(t, byte(7), readback[0])
}

func TestAvoidSetUnmarkAllowsReuse(t *testing.T) {
	avoid := hints.NewAvoidSet()
	avoid.Mark(3)
	avoid.Unmark(3)

	typ := hints.NewType(avoid)
	require.NotNil(t, typ.AllocPhysAddr)
	require.False(t, typ.AllocPhysAddr(nil, 3))
}

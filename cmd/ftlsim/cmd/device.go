package cmd

import (
	"sync"

	"github.com/VazKrishnan/lightnvm/pkg/ftl"
)

// fakeBlockDevice is the synthetic ftl.BlockDevice used by ftlsim: a
// map keyed by translated device sector, filled in on write and
// returned on read. It has no notion of erase cycles or wear; it exists
// purely to give Read/Write something to complete against.
type fakeBlockDevice struct {
	mu   sync.Mutex
	data map[uint64][]byte
}

func newFakeBlockDevice() *fakeBlockDevice {
	return &fakeBlockDevice{data: make(map[uint64][]byte)}
}

// Submit implements ftl.BlockDevice. It completes on its own goroutine,
// as the interface requires, so the core never blocks waiting on it.
func (d *fakeBlockDevice) Submit(w *ftl.RequestWrapper) {
	go func() {
		sector := w.DeviceSector()

		if w.Direction() == ftl.DirWrite {
			buf := make([]byte, len(w.Payload()))
			copy(buf, w.Payload())
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

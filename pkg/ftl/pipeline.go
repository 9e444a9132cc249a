package ftl

import (
	"context"
	"time"
)

// maxDeferRetries bounds how many times a single request may be deferred
// before the core gives up and fails it outward. spec.md §9 flags the
// deferred worker's retry semantics under repeated exhaustion as
// unspecified and suggests a bounded retry count; 8 gives GC several
// drain cycles without letting a starved request sit forever.
const maxDeferRetries = 8

func dirLabel(d Direction) string {
	if d == DirWrite {
		return "write"
	}
	return "read"
}

// defaultReadBio is the Type.ReadBio implementation: spec.md §4.6's
// read_bio. The wrapper arrives already bound with its logical address
// and addrLock; the address lock itself is taken here.
func defaultReadBio(f *FTL, w *RequestWrapper) error {
	f.tm.LockAddr(w.lock, w.logical)

	handle, err := f.typ.LookupLtop(f, w.logical)
	if err != nil {
		f.tm.UnlockAddr(w.lock)
		f.typ.DeferBio(f, w)
		return nil
	}
	w.handle = handle

	if handle.Block == nil {
		// Never written: zero-fill and complete without touching the
		// device.
		f.tm.UnlockAddr(w.lock)
		payload := w.orig.Payload
		for i := range payload {
			payload[i] = 0
		}
		f.finishWrapper(w, nil)
		return nil
	}

	w.addr = handle.Addr
	w.ap = f.aps[handle.Block.pool]
	w.deviceSector = uint64(handle.Addr)*uint64(f.cfg.SectorsPerHostPage) + w.orig.Sector%uint64(f.cfg.SectorsPerHostPage)
	w.addrLocked = true
	f.submitBio(w)
	return nil
}

// defaultWriteBio is the Type.WriteBio implementation: spec.md §4.6's
// write_bio. The caller (FTL.Write) is responsible for having already
// taken the logical-address lock; on success, ownership of that lock
// passes to the wrapper and it is released in endio. On deferral it is
// released here.
func defaultWriteBio(f *FTL, w *RequestWrapper, isGC bool) (WriteResult, error) {
	handle, err := f.typ.MapLtop(f, w.lock, w.logical, isGC, w.mapID)
	if err != nil {
		f.tm.UnlockAddr(w.lock)
		f.typ.DeferBio(f, w)
		return WriteDeferred, nil
	}
	w.handle = handle
	w.addr = handle.Addr

	block := handle.Block
	offset := int(handle.Addr) % f.cfg.HostPagesPerBlock
	block.stageHostPage(offset, w.orig.Payload)
	w.flashPayload = block.flashPagePayload(offset)
	w.ap = f.aps[block.pool]
	w.deviceSector = uint64(handle.Addr)*uint64(f.cfg.SectorsPerHostPage) + w.orig.Sector%uint64(f.cfg.SectorsPerHostPage)
	w.addrLocked = true

	f.submitBio(w)
	return WriteSuccess, nil
}

// submitBio stamps the start time, then either submits immediately or
// enqueues on the pool's serialized waiting list, per spec.md §4.6. It
// does not count the access on the AP: the per-AP access counter is only
// incremented by AppendPoint.allocAddr, on the write path, so reads are
// not counted.
func (f *FTL) submitBio(w *RequestWrapper) {
	w.timeStart = time.Now()
	pool := f.pools[w.ap.pool]

	if !f.cfg.PoolSerialize {
		f.device.Submit(w)
		return
	}

	if mustSchedule := f.typ.BioWaitAdd(f, w); mustSchedule {
		f.scheduleDelayedSubmit(pool)
	}
}

// scheduleDelayedSubmit runs delayed_submit on a goroutine supervised by
// the FTL's errgroup: pop the head of waiting_bios, install it as cur_bio,
// stamp its start time, and submit. It blocks on the pool's run slot
// first, so at most one device request is ever in flight for the pool at
// a time (spec.md §9 open question #2's resolution: the atomic increment
// of is_active decides who schedules the worker, runSlot
// enforces the actual mutual exclusion). A failed Acquire (the only
// fallible step here, since the context never carries a deadline today)
// is propagated through the group rather than swallowed, so Close's Wait
// surfaces it instead of silently dropping the waiting request.
func (f *FTL) scheduleDelayedSubmit(pool *Pool) {
	f.wg.Go(func() error {
		w := pool.nextWaiting()
		if w == nil {
			return nil
		}
		if err := pool.runSlot.Acquire(context.Background(), 1); err != nil {
			return err
		}
		w.timeStart = time.Now()
		f.device.Submit(w)
		return nil
	})
}

// deferRequest is the default Type.DeferBio: park the wrapper on the
// deferred queue and kick GC, unless it has already been retried past
// maxDeferRetries, in which case it fails outward instead of parking
// forever.
func (f *FTL) deferRequest(w *RequestWrapper) {
	w.deferCount++
	deferredTotal.Inc()

	if w.deferCount > maxDeferRetries {
		f.finishWrapper(w, errExhausted("logical %d: exceeded %d defer retries", w.logical, maxDeferRetries))
		return
	}

	f.deferredMu.Lock()
	f.deferred = append(f.deferred, w)
	f.deferredMu.Unlock()
	f.KickGC()
}

// DrainDeferred is the deferred_submit worker: atomically take the whole
// deferred queue and re-dispatch each wrapper via its own direction's
// entry point, in enqueue order. A caller (typically pkg/gc, after
// freeing blocks) invokes this once per drain cycle.
func (f *FTL) DrainDeferred() {
	f.deferredMu.Lock()
	batch := f.deferred
	f.deferred = nil
	f.deferredMu.Unlock()

	for _, w := range batch {
		f.redispatch(w)
	}
}

// redispatch re-runs the wrapper's original path, taking the
// logical-address lock the same way the original entry point did: ReadBio
// takes it itself, while WriteBio expects the caller to hold it. The
// wrapper was never handed a handle or physical address on its earlier,
// failed attempt, so it re-enters exactly as it would from a fresh
// Read/Write call.
func (f *FTL) redispatch(w *RequestWrapper) {
	if w.dir == DirRead {
		_ = f.typ.ReadBio(f, w)
		return
	}
	f.tm.LockAddr(w.lock, w.logical)
	_, _ = f.typ.WriteBio(f, w, w.kind == KindGC)
}

// endio is the completion path, spec.md §4.6: unlock the logical address,
// account write completion against the block, pace the device wait,
// advance the pool's serialized waiting queue, restore and invoke the
// upstream completion hook, and free the handle and wrapper.
func (f *FTL) endio(w *RequestWrapper, devErr error) {
	err := errDevice(devErr)

	if w.addrLocked {
		f.tm.UnlockAddr(w.lock)
	}

	if w.dir == DirWrite && err == nil {
		block := w.handle.Block
		if fullyCommitted := block.commitHostPage(); fullyCommitted {
			f.pools[block.pool].promoteToPrio(block)
			f.aps[block.pool].clearCurIfMatches(block)
		}
	}

	var devWaitUS int64
	if w.dir == DirWrite {
		devWaitUS = w.ap.TWrite()
	} else {
		devWaitUS = w.ap.TRead()
	}
	if f.typ.Endio != nil {
		devWaitUS = f.typ.Endio(f, w, devWaitUS)
	}

	label := dirLabel(w.dir)
	if !f.cfg.NoWaits && devWaitUS > 0 {
		f.pace(devWaitUS, w.timeStart, label)
	}
	submitLatencySeconds.WithLabelValues(label).Observe(time.Since(w.timeStart).Seconds())

	if f.cfg.PoolSerialize {
		pool := f.pools[w.ap.pool]
		pool.finishCurBio()
		pool.runSlot.Release(1)
		// Re-queue the worker unconditionally: it either advances the next
		// waiter or, finding the queue empty, clears is_active so the next
		// enqueue schedules a fresh worker.
		f.scheduleDelayedSubmit(pool)
	}

	f.finishWrapper(w, err)
}

// pace busy-waits until devWaitUS microseconds have elapsed since start,
// emulating media latency (spec.md §4.6/§9). Sleeps of ~5µs are used
// instead of a tight spin once the remaining gap exceeds 10µs; below that
// it free-spins rather than oversleep past the target. A wait that
// overshoots 1500µs is logged as a diagnostic warning.
func (f *FTL) pace(devWaitUS int64, start time.Time, label string) {
	target := time.Duration(devWaitUS) * time.Microsecond
	for {
		elapsed := time.Since(start)
		if elapsed >= target {
			break
		}
		if remaining := target - elapsed; remaining > 10*time.Microsecond {
			time.Sleep(5 * time.Microsecond)
		}
	}

	elapsed := time.Since(start)
	deviceWaitSeconds.WithLabelValues(label).Observe(elapsed.Seconds())
	if elapsed > 1500*time.Microsecond {
		f.warnf("device wait exceeded 1500us: took %s, target %dus", elapsed, devWaitUS)
	}
}

// finishWrapper invokes the saved upstream completion hook (restored
// from its own field rather than an overwritten closure, per spec.md §9),
// reports completion to an attached parent request and/or sync channel,
// releases the forward-entry handle (unless this was a GC read, whose
// handle the caller owns for longer), and returns the wrapper to its
// pool.
func (f *FTL) finishWrapper(w *RequestWrapper, err error) {
	orig := w.orig

	if w.savedComplete != nil {
		w.savedComplete(orig, err)
	}
	if w.completeOriginal != nil && w.completeOriginal.Complete != nil {
		w.completeOriginal.Complete(w.completeOriginal, err)
	}
	if w.syncSignal != nil {
		w.syncSignal <- err
	}

	if w.handle != nil && !(w.kind == KindGC && w.dir == DirRead) {
		f.tm.release(w.handle)
	}

	w.reset()
	f.wrappers.put(w)
}

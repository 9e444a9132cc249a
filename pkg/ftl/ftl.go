package ftl

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// FTL is the root object: a single long-lived instance owning every pool,
// append point, and the translation map, with explicit init/teardown and
// no process-wide singleton state (spec.md §9). Workers and pools hold
// references to it only by index.
type FTL struct {
	cfg    Config
	device BlockDevice
	typ    *Type

	pools []*Pool
	aps   []*AppendPoint
	tm    *TranslationMap

	rrCursor atomic.Uint32

	wrappers *fixedPool[RequestWrapper]

	deferredMu sync.Mutex
	deferred   []*RequestWrapper

	gcSignal chan struct{}

	// wg supervises scheduleDelayedSubmit's background workers; Close
	// waits on it and surfaces the first worker error, if any.
	wg *errgroup.Group

	// warnf is the pluggable diagnostic-logging hook (spec.md calls
	// logging out of scope for the core; this is the seam cmd/ftlsim
	// wires to its own structured logger).
	warnf func(format string, args ...interface{})
}

// NewFTL constructs and initializes an FTL instance: it allocates all
// pools and their blocks, one append point per pool, and the translation
// map, then registers the package's Prometheus collectors exactly once.
// typ may be nil, in which case DefaultType is used.
func NewFTL(cfg Config, device BlockDevice, typ *Type) (*FTL, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if device == nil {
		return nil, newInvariantError("NewFTL: device must not be nil")
	}
	if typ == nil {
		typ = DefaultType()
	}

	registerMetrics()

	f := &FTL{
		cfg:      cfg,
		device:   device,
		typ:      typ,
		gcSignal: make(chan struct{}, 1),
		wg:       &errgroup.Group{},
		warnf:    func(format string, args ...interface{}) { log.Printf("ftl: "+format, args...) },
	}

	f.pools = make([]*Pool, cfg.NumAppendPoints)
	f.aps = make([]*AppendPoint, cfg.NumAppendPoints)
	var base PhysAddr
	for i := 0; i < cfg.NumAppendPoints; i++ {
		pool := newPool(PoolIndex(i), base, cfg.BlocksPerPool, cfg.HostPagesPerBlock, cfg.HostPagesPerFlashPage, cfg.OverProvisionBlocksPerPool, cfg.PoolSerialize)
		f.pools[i] = pool
		f.aps[i] = newAppendPoint(APIndex(i), PoolIndex(i), cfg.HostPagesPerBlock, cfg.HostPagesPerFlashPage, cfg.TRead, cfg.TWrite)
		base += PhysAddr(cfg.BlocksPerPool * cfg.HostPagesPerBlock)
	}

	f.tm = newTranslationMap(cfg.NumPages, cfg.RequestPoolSize)
	f.wrappers = newFixedPool(cfg.RequestPoolSize, newRequestWrapper)

	return f, nil
}

// SetWarnf overrides the diagnostic-logging hook. Passing nil restores
// the default (log.Printf).
func (f *FTL) SetWarnf(warnf func(format string, args ...interface{})) {
	if warnf == nil {
		warnf = func(format string, args ...interface{}) { log.Printf("ftl: "+format, args...) }
	}
	f.warnf = warnf
}

// Read is the client surface's read() entry point (spec.md §6): once the
// request is taken in it reports accepted (nil) and completes through the
// request's completion callback, asynchronously after device I/O or
// inline for the zero-fill case. An out-of-range sector returns an
// *InvariantError and an exhausted wrapper pool a ResourceExhausted
// error; in both cases the callback is not invoked.
func (f *FTL) Read(req *Request) error {
	if req.Sector >= uint64(f.cfg.NumPages)*uint64(f.cfg.SectorsPerHostPage) {
		return newInvariantError("read: sector %d out of range", req.Sector)
	}
	l := LogAddr(req.Sector / uint64(f.cfg.SectorsPerHostPage))

	w := f.wrappers.getOrAlloc(newRequestWrapper)
	if w == nil {
		return errExhausted("request wrapper pool exhausted")
	}
	w.bind(f, req, l, DirRead, MapPrimary, KindHost, &addrLock{})

	return f.typ.ReadBio(f, w)
}

// Write is the client surface's write() entry point (spec.md §6). It
// takes the logical-address lock itself before handing off to
// Type.WriteBio, which treats that lock as the caller's responsibility:
// ownership passes into the wrapper on success (released in endio) or is
// released immediately on deferral.
func (f *FTL) Write(req *Request, opts WriteOpts) (WriteResult, error) {
	if req.Sector >= uint64(f.cfg.NumPages)*uint64(f.cfg.SectorsPerHostPage) {
		return WriteDeferred, newInvariantError("write: sector %d out of range", req.Sector)
	}
	l := LogAddr(req.Sector / uint64(f.cfg.SectorsPerHostPage))

	w := f.wrappers.getOrAlloc(newRequestWrapper)
	if w == nil {
		return WriteDeferred, errExhausted("request wrapper pool exhausted")
	}
	kind := KindHost
	if opts.IsGC {
		kind = KindGC
	}
	w.bind(f, req, l, DirWrite, opts.Map, kind, &addrLock{})
	w.private = opts.Private
	w.completeOriginal = opts.CompleteOriginal
	w.syncSignal = opts.Completion

	f.tm.LockAddr(w.lock, l)
	return f.typ.WriteBio(f, w, opts.IsGC)
}

// LockAddr and UnlockAddr expose the per-logical-address lock directly,
// for advanced callers (GC) that need to bracket a read-modify-write
// sequence around a Write call (spec.md §6's "lock_addr(l)/unlock_addr(l)
// paired around write when needed"). Ordinary Read/Write callers must not
// call these: both entry points manage their own locking.
func (f *FTL) LockAddr(lock *addrLock, sector uint64) {
	f.tm.LockAddr(lock, LogAddr(sector/uint64(f.cfg.SectorsPerHostPage)))
}

func (f *FTL) UnlockAddr(lock *addrLock, _ uint64) {
	f.tm.UnlockAddr(lock)
}

// KickGC raises an idempotent signal that a deferred/exhaustion condition
// was reached (spec.md §4.8). Multiple kicks before the signal is
// consumed collapse into one.
func (f *FTL) KickGC() {
	gcKicksTotal.Inc()
	select {
	case f.gcSignal <- struct{}{}:
	default:
	}
}

// GCSignal returns the channel GC should block on to learn it has been
// kicked.
func (f *FTL) GCSignal() <-chan struct{} { return f.gcSignal }

// Pool returns the pool at index i, for GC and diagnostics.
func (f *FTL) Pool(i PoolIndex) *Pool { return f.pools[i] }

// NumPools returns the number of pools (1:1 with append points).
func (f *FTL) NumPools() int { return len(f.pools) }

// PutBlock returns a fully-reclaimed block to its pool's free list. GC
// calls this once every valid page has been relocated out of the block.
func (f *FTL) PutBlock(b *Block) {
	f.pools[b.pool].putBlock(b)
}

// SetGCRunning marks or clears a block's GC-relocation flag. While set,
// reads against the block's pages defer instead of completing through the
// primary map (spec.md §4.8).
func (f *FTL) SetGCRunning(b *Block, running bool) {
	b.setGCRunning(running)
}

// ReverseLookup exposes the reverse map for GC's page-by-page scan of a
// block being relocated.
func (f *FTL) ReverseLookup(addr PhysAddr) (ReverseEntry, bool) {
	return f.tm.ReverseLookup(addr)
}

// ReleaseHandle returns a forward-entry handle to its pool. Ordinary
// completions release their own handle in endio; this is for a GC read,
// whose handle the caller owns until it is done using it (spec.md §9's
// "GC-read wrappers free their handles in the caller").
func (f *FTL) ReleaseHandle(h *ForwardEntryHandle) {
	f.tm.release(h)
}

// BlockBase returns the physical base address of a block, for GC callers
// that need to translate a block-relative offset to a physical address.
func (f *FTL) BlockBase(b *Block) PhysAddr {
	return f.pools[b.pool].blockBase(b, f.cfg.HostPagesPerBlock)
}

// ReadPhysical fetches the current content at a block-relative host-page
// offset, bypassing the logical translation map entirely: GC already
// knows exactly which physical page it is relocating. The request still
// flows through the normal AP/pool-serialize/device-wait machinery so it
// contends realistically with host I/O against the same pool.
func (f *FTL) ReadPhysical(block *Block, offset int, payload []byte) error {
	addr := f.BlockBase(block) + PhysAddr(offset)

	w := f.wrappers.getOrAlloc(newRequestWrapper)
	if w == nil {
		return errExhausted("request wrapper pool exhausted")
	}

	done := make(chan error, 1)
	req := &Request{
		Sector:  uint64(addr) * uint64(f.cfg.SectorsPerHostPage),
		Dir:     DirRead,
		Payload: payload,
		Complete: func(*Request, error) {
		},
	}
	w.bind(f, req, 0, DirRead, MapGC, KindGC, &addrLock{})
	w.addr = addr
	w.ap = f.aps[block.pool]
	w.deviceSector = req.Sector
	w.syncSignal = done

	f.submitBio(w)
	return <-done
}

// Config returns the FTL's configuration.
func (f *FTL) Config() Config { return f.cfg }

// Close waits for any in-flight background submit workers to finish,
// returning the first error any of them reported. It does not drain the
// deferred queue or stop accepting new requests; the caller must stop
// calling Read/Write first.
func (f *FTL) Close() error {
	return f.wg.Wait()
}

func (f *FTL) String() string {
	return fmt.Sprintf("FTL(pools=%d, pages=%d)", len(f.pools), f.cfg.NumPages)
}

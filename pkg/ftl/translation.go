package ftl

import (
	"sync"
)

// addrLock tracks the one or two locks a single in-flight request holds
// at a time: its bound logical address's per-address mutex, held for the
// whole submit, and, nested strictly beneath it, the translation map's
// single revLock, held only for updateMap's brief critical section. The
// pair and its order are fixed by this file's own call sites — the
// address lock is always acquired first and released last; revLock is
// always acquired and released strictly inside that window. Because
// neither the identities nor the count of locks involved vary at
// runtime, there is no need for an address-ordered acquisition scheme or
// backtracking to avoid deadlock here: the order is already total by
// construction.
type addrLock struct {
	addr *sync.Mutex
	rev  *sync.Mutex
}

// lockAddr acquires mu as the request's logical-address lock.
func (al *addrLock) lockAddr(mu *sync.Mutex) {
	mu.Lock()
	al.addr = mu
}

// unlockAddr releases the request's logical-address lock. It is a no-op
// if the address lock was never taken, as happens for a physical-address-
// only request (GC's ReadPhysical never locks an address at all).
func (al *addrLock) unlockAddr() {
	if al.addr == nil {
		return
	}
	al.addr.Unlock()
	al.addr = nil
}

// lockRev acquires mu as the request's reverse-map lock, nested beneath
// whatever address lock this request already holds.
func (al *addrLock) lockRev(mu *sync.Mutex) {
	mu.Lock()
	al.rev = mu
}

// unlockRev releases the request's reverse-map lock.
func (al *addrLock) unlockRev() {
	al.rev.Unlock()
	al.rev = nil
}

// ForwardEntry is the logical-to-physical mapping for one logical address:
// a physical address (or LTOPEmpty if unwritten) and the block that address
// falls within.
type ForwardEntry struct {
	Addr  PhysAddr
	Block *Block
}

// ForwardEntryHandle is a caller-owned copy of a ForwardEntry returned by
// lookupLtop, drawn from a fixed-capacity pool (spec.md §5). Callers must
// release it with TranslationMap.release once done, unless it is a GC read
// handle, which the caller (GC) owns for longer.
type ForwardEntryHandle struct {
	ForwardEntry
	Logical LogAddr
}

// ReverseEntry is the physical-to-logical mapping: which logical address a
// physical page currently belongs to, and which map owns that forward
// entry.
type ReverseEntry struct {
	Logical LogAddr
	Map     MapID
	valid   bool
}

// TranslationMap holds the forward map (logical→physical+block), the
// reverse map (physical→logical+owning-map), and the per-logical-address
// locks that serialize concurrent operations on the same logical address.
type TranslationMap struct {
	addrLocks []sync.Mutex
	forward   []ForwardEntry

	revLock sync.Mutex
	reverse map[PhysAddr]ReverseEntry

	handles *fixedPool[ForwardEntryHandle]
}

func newTranslationMap(numPages int, handlePoolSize int) *TranslationMap {
	tm := &TranslationMap{
		addrLocks: make([]sync.Mutex, numPages),
		forward:   make([]ForwardEntry, numPages),
		reverse:   make(map[PhysAddr]ReverseEntry),
		handles:   newFixedPool(handlePoolSize, func() *ForwardEntryHandle { return &ForwardEntryHandle{} }),
	}
	for i := range tm.forward {
		tm.forward[i] = ForwardEntry{Addr: LTOPEmpty}
	}
	return tm
}

// LockAddr acquires the per-logical-address lock for l, recording it in
// lock. lock is threaded through the rest of the request (held across the
// full submit, per spec.md §5) so that updateMap can later nest revLock
// beneath it instead of acquiring it independently.
func (tm *TranslationMap) LockAddr(lock *addrLock, l LogAddr) {
	lock.lockAddr(&tm.addrLocks[l])
}

// UnlockAddr releases the logical-address lock lock currently holds.
func (tm *TranslationMap) UnlockAddr(lock *addrLock) {
	lock.unlockAddr()
}

// lookupLtop allocates a handle and copies {addr, block} from the forward
// map for l. If the mapped block has gc_running set, the lookup fails so
// the caller defers: this prevents serving reads against a page being
// relocated before the forward map catches up. The caller must already
// hold l's address lock.
func (tm *TranslationMap) lookupLtop(l LogAddr) (*ForwardEntryHandle, error) {
	fe := tm.forward[l]
	if fe.Block != nil && fe.Block.GCRunning() {
		return nil, errExhausted("logical %d: block %d is under GC relocation", l, fe.Block.index)
	}
	return tm.handleCopy(l, fe)
}

// handleFor draws a handle from the pool and fills it from the forward
// entry just installed for l by updateMap. Used by the allocator right
// after a successful map_ltop, so it skips the gc_running check lookupLtop
// performs: the block was just reserved for this write, not under GC.
func (tm *TranslationMap) handleFor(l LogAddr) (*ForwardEntryHandle, error) {
	return tm.handleCopy(l, tm.forward[l])
}

func (tm *TranslationMap) handleCopy(l LogAddr, fe ForwardEntry) (*ForwardEntryHandle, error) {
	h := tm.handles.getOrAlloc(func() *ForwardEntryHandle { return &ForwardEntryHandle{} })
	if h == nil {
		return nil, errExhausted("forward-entry handle pool exhausted")
	}
	h.Addr = fe.Addr
	h.Block = fe.Block
	h.Logical = l
	return h, nil
}

// release returns a handle to the pool. GC read handles are owned by the
// caller for longer and released explicitly by GC instead.
func (tm *TranslationMap) release(h *ForwardEntryHandle) {
	tm.handles.put(h)
}

// updateMap installs a new forward mapping for l and maintains the reverse
// map's invariant: for every live ForwardEntry(l) = (p, b), ReverseEntry(p)
// = (l, map_of(l)). If l already had a mapped block, that page is
// invalidated and its old reverse entry poisoned.
//
// The caller must already hold l's address lock via lock (LockAddr).
// updateMap nests revLock beneath it — strictly after the address lock and
// never in reverse order (spec.md §5) — and releases revLock immediately
// after, keeping that critical section short as spec.md requires; the
// address lock remains held in lock for the rest of the request.
func (tm *TranslationMap) updateMap(lock *addrLock, l LogAddr, addr PhysAddr, block *Block, hostPagesPerBlock int, mapID MapID) {
	lock.lockRev(&tm.revLock)

	prev := tm.forward[l]
	if prev.Block != nil {
		offset := int(prev.Addr) % hostPagesPerBlock
		prev.Block.invalidateBlockPage(offset)
		tm.reverse[prev.Addr] = ReverseEntry{valid: false}
	}

	tm.forward[l] = ForwardEntry{Addr: addr, Block: block}
	tm.reverse[addr] = ReverseEntry{Logical: l, Map: mapID, valid: true}

	lock.unlockRev()
}

// ReverseLookup returns the reverse-map entry for a physical address, and
// whether it is currently a live (non-poisoned) mapping.
func (tm *TranslationMap) ReverseLookup(addr PhysAddr) (ReverseEntry, bool) {
	tm.revLock.Lock()
	defer tm.revLock.Unlock()
	re, ok := tm.reverse[addr]
	return re, ok && re.valid
}

// ForwardLookup returns a snapshot of the forward entry for l without
// taking the address lock; used for invariant-checking in tests, never on
// the hot path.
func (tm *TranslationMap) ForwardLookup(l LogAddr) ForwardEntry {
	return tm.forward[l]
}

package ftl

import (
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// PoolIndex is a stable index into the FTL root's pools array.
type PoolIndex int

// NoPool is the PoolIndex sentinel meaning "no pool".
const NoPool PoolIndex = -1

// Pool owns the blocks of one flash channel: it maintains the free/used
// block lifecycle lists, the GC-candidate prio list, and, when
// pool-serialize is enabled, the waiting queue that keeps at most one
// request in flight against the pool at a time.
type Pool struct {
	index PoolIndex
	base  PhysAddr // physical address of block 0, page 0 of this pool

	mu        sync.Mutex // leaf lock: free/used/prio lists + nrFreeBlocks
	blocks    []*Block
	freeList  []*Block // FIFO: oldest freed at front (index 0)
	usedList  []*Block // insertion at back; front is oldest, most reclaimable
	prioList  []*Block // GC candidates; order is GC policy's concern
	nrFree    int
	overProvi int

	isActive atomic.Int32 // atomic single-flight counter, spec.md §4.6/§9 open question #2
	runSlot  *semaphore.Weighted

	waitingLock sync.Mutex
	waitingBios []*RequestWrapper
	curBio      *RequestWrapper
}

func newPool(index PoolIndex, base PhysAddr, nrBlocks, hostPagesPerBlock, hostPagesPerFlashPage, overProvision int, serialize bool) *Pool {
	p := &Pool{
		index:     index,
		base:      base,
		blocks:    make([]*Block, nrBlocks),
		freeList:  make([]*Block, 0, nrBlocks),
		overProvi: overProvision,
	}
	if serialize {
		p.runSlot = semaphore.NewWeighted(1)
	}
	for i := 0; i < nrBlocks; i++ {
		b := newBlock(BlockIndex(i), index, hostPagesPerBlock, hostPagesPerFlashPage)
		p.blocks[i] = b
		if i < nrBlocks-overProvision {
			p.freeList = append(p.freeList, b)
		}
	}
	p.nrFree = len(p.freeList)
	return p
}

// blockBase returns the physical base address of the given block within
// this pool.
func (p *Pool) blockBase(b *Block, hostPagesPerBlock int) PhysAddr {
	return p.base + PhysAddr(int(b.index)*hostPagesPerBlock)
}

// getBlock pops the front of free_list and appends it to used_list,
// returning the newly active block. isGC selects the headroom policy:
// non-GC requests refuse once the free count, before the pop, is already
// below nr_aps (to reserve AP headroom), GC requests refuse only at true
// exhaustion.
func (p *Pool) getBlock(isGC bool, nrAPs int) (*Block, error) {
	p.mu.Lock()
	if len(p.freeList) == 0 {
		p.mu.Unlock()
		return nil, errExhausted("pool %d: no free blocks", p.index)
	}
	if !isGC && p.nrFree < nrAPs {
		p.mu.Unlock()
		return nil, errExhausted("pool %d: free block headroom reserved for append points", p.index)
	}

	b := p.freeList[0]
	p.freeList = p.freeList[1:]
	p.usedList = append(p.usedList, b)
	p.nrFree--
	poolFreeBlocks.WithLabelValues(poolLabel(p.index)).Set(float64(p.nrFree))
	p.mu.Unlock()

	b.reset()
	b.activate()
	return b, nil
}

// putBlock moves a block from wherever it currently sits to the back of
// free_list. Precondition: all valid pages have been migrated elsewhere
// (enforced by the GC caller, not by Pool).
func (p *Pool) putBlock(b *Block) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.usedList = removeBlock(p.usedList, b)
	p.prioList = removeBlock(p.prioList, b)
	p.freeList = append(p.freeList, b)
	p.nrFree++
	poolFreeBlocks.WithLabelValues(poolLabel(p.index)).Set(float64(p.nrFree))
	prioListLength.WithLabelValues(poolLabel(p.index)).Set(float64(len(p.prioList)))
}

// promoteToPrio appends a fully-committed block to prio_list, marking it a
// GC candidate.
func (p *Pool) promoteToPrio(b *Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prioList = append(p.prioList, b)
	prioListLength.WithLabelValues(poolLabel(p.index)).Set(float64(len(p.prioList)))
}

// PrioList returns a snapshot of the current GC-candidate list, in
// insertion order. GC is responsible for any further sorting by policy.
func (p *Pool) PrioList() []*Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Block, len(p.prioList))
	copy(out, p.prioList)
	return out
}

// NrFreeBlocks returns the current free-block count.
func (p *Pool) NrFreeBlocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nrFree
}

// nrFreeUnsafe reads nr_free without taking the pool lock, for the GC
// append-point survey, which spec.md §4.5 calls out as "best-effort, no
// locking for the survey".
func (p *Pool) nrFreeUnsafe() int {
	return p.nrFree
}

// enqueueWaiting pushes req onto waiting_bios and reports whether this
// call is the one responsible for scheduling the pool's worker: it
// atomically increments is_active, and only the caller that transitions it
// from 0 to 1 must kick the worker (spec.md §4.6).
func (p *Pool) enqueueWaiting(req *RequestWrapper) (mustSchedule bool) {
	p.waitingLock.Lock()
	p.waitingBios = append(p.waitingBios, req)
	p.waitingLock.Unlock()
	return p.isActive.Add(1) == 1
}

// nextWaiting pops the head of waiting_bios and installs it as cur_bio, or
// clears is_active and returns nil if the queue is empty.
func (p *Pool) nextWaiting() *RequestWrapper {
	p.waitingLock.Lock()
	defer p.waitingLock.Unlock()

	if len(p.waitingBios) == 0 {
		p.isActive.Store(0)
		p.curBio = nil
		return nil
	}
	req := p.waitingBios[0]
	p.waitingBios = p.waitingBios[1:]
	p.curBio = req
	return req
}

// finishCurBio clears cur_bio and, if more waiters remain, reports that
// the worker must run again to advance the queue.
func (p *Pool) finishCurBio() (more bool) {
	p.waitingLock.Lock()
	defer p.waitingLock.Unlock()
	p.curBio = nil
	return len(p.waitingBios) > 0
}

// CurBio returns the request currently in flight for a serialized pool, or
// nil.
func (p *Pool) CurBio() *RequestWrapper {
	p.waitingLock.Lock()
	defer p.waitingLock.Unlock()
	return p.curBio
}

func removeBlock(list []*Block, b *Block) []*Block {
	for i, cur := range list {
		if cur == b {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func poolLabel(i PoolIndex) string {
	return strconv.Itoa(int(i))
}

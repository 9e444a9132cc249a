package ftl

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// APIndex is a stable index into the FTL root's append-points array.
type APIndex int

// NoAP is the APIndex sentinel meaning "not bound to any append point".
const NoAP APIndex = -1

// AppendPoint is a write cursor: it owns a current write block and a
// current GC write block, and tracks per-AP device-wait timing.
type AppendPoint struct {
	mu sync.Mutex

	index APIndex
	pool  PoolIndex

	cur   *Block
	gcCur *Block

	hostPagesPerBlock     int
	hostPagesPerFlashPage int

	tRead  int64
	tWrite int64

	accesses prometheus.Counter
}

func newAppendPoint(index APIndex, pool PoolIndex, hostPagesPerBlock, hostPagesPerFlashPage int, tRead, tWrite int64) *AppendPoint {
	return &AppendPoint{
		index:                 index,
		pool:                  pool,
		hostPagesPerBlock:     hostPagesPerBlock,
		hostPagesPerFlashPage: hostPagesPerFlashPage,
		tRead:                 tRead,
		tWrite:                tWrite,
		accesses:              apAccessesTotal.WithLabelValues(poolLabel(PoolIndex(index))),
	}
}

// setCur swaps the AP's current block. The outgoing block must be full;
// set_cur asserts this and clears its back-reference before installing the
// new block.
func (ap *AppendPoint) setCur(next *Block) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	ap.setCurLocked(next)
}

func (ap *AppendPoint) setCurLocked(next *Block) {
	if ap.cur != nil {
		invariant(ap.cur.isFull(), "AP %d: outgoing block %d is not full", ap.index, ap.cur.index)
		ap.cur.setAP(NoAP)
	}
	ap.cur = next
	if next != nil {
		next.setAP(ap.index)
	}
}

// clearCurIfMatches detaches b from cur/gcCur once it is fully committed
// and promoted to its pool's prio list. Without this, a block can sit as
// an AP's stale "current" reference after GC has already reclaimed and
// reset it, so the AP's next allocation would find its own cur reference
// unexpectedly not full, tripping setCurLocked's invariant.
func (ap *AppendPoint) clearCurIfMatches(b *Block) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	if ap.cur == b {
		ap.cur = nil
		b.setAP(NoAP)
	}
	if ap.gcCur == b {
		ap.gcCur = nil
		b.setAP(NoAP)
	}
}

func (ap *AppendPoint) setGCCurLocked(next *Block) {
	if ap.gcCur != nil {
		ap.gcCur.setAP(NoAP)
	}
	ap.gcCur = next
	if next != nil {
		next.setAP(ap.index)
	}
}

// allocAddr implements the two-tier allocation in spec.md §4.3: try the
// current block; on exhaustion, pull a fresh block from the pool for host
// writes, or fall back to the GC reserve block for GC writes.
func (ap *AppendPoint) allocAddr(isGC bool, pool *Pool, nrAPs int, special pageSpecial) (*Block, PhysAddr, error) {
	ap.mu.Lock()
	defer ap.mu.Unlock()

	ap.accesses.Inc()

	if ap.cur != nil {
		if addr, ok := ap.cur.allocPhys(pool.blockBase(ap.cur, ap.hostPagesPerBlock), special); ok {
			return ap.cur, addr, nil
		}
	}

	next, err := pool.getBlock(false, nrAPs)
	if err == nil {
		ap.setCurLocked(next)
		if addr, ok := ap.cur.allocPhys(pool.blockBase(ap.cur, ap.hostPagesPerBlock), special); ok {
			return ap.cur, addr, nil
		}
		return nil, LTOPEmpty, newInvariantError("AP %d: freshly reset block %d reports full", ap.index, next.index)
	}
	if !isGC {
		return nil, LTOPEmpty, err
	}

	if ap.gcCur != nil {
		if addr, ok := ap.gcCur.allocPhys(pool.blockBase(ap.gcCur, ap.hostPagesPerBlock), special); ok {
			return ap.gcCur, addr, nil
		}
	}

	gcNext, gcErr := pool.getBlock(true, nrAPs)
	if gcErr != nil {
		return nil, LTOPEmpty, gcErr
	}
	ap.setGCCurLocked(gcNext)
	if addr, ok := ap.gcCur.allocPhys(pool.blockBase(ap.gcCur, ap.hostPagesPerBlock), special); ok {
		return ap.gcCur, addr, nil
	}
	return nil, LTOPEmpty, newInvariantError("AP %d: freshly reset GC block %d reports full", ap.index, gcNext.index)
}

// TRead returns the AP's target read device-wait, in microseconds.
func (ap *AppendPoint) TRead() int64 {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	return ap.tRead
}

// TWrite returns the AP's target write device-wait, in microseconds.
func (ap *AppendPoint) TWrite() int64 {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	return ap.tWrite
}

// Pool returns the index of the pool this append point writes into.
func (ap *AppendPoint) Pool() PoolIndex { return ap.pool }

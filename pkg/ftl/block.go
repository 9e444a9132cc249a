package ftl

import (
	"sync"

	"github.com/VazKrishnan/lightnvm/internal/bitmap"
)

// BlockIndex is a stable index into the FTL root's flat blocks array, used
// in place of an ownership pointer so Block, AppendPoint, and Pool can
// reference each other without forming a Go pointer cycle (spec.md §9).
type BlockIndex int

// NoBlock is the BlockIndex sentinel meaning "no block".
const NoBlock BlockIndex = -1

// Block represents one erase-unit: a next-write cursor, an invalid-page
// bitmap, in-flight counters, and an optional staging buffer allocated
// while the block is an active write target.
type Block struct {
	mu sync.Mutex

	index BlockIndex
	pool  PoolIndex
	ap    APIndex // -1 if this block is not any AP's current block

	hostPagesPerBlock     int
	hostPagesPerFlashPage int

	nextPage   int // next unwritten flash page
	nextOffset int // next unwritten host-page slot within nextPage

	invalid         *bitmap.Bitmap
	nrInvalidPages  int
	dataSize        int // host pages written into the staging buffer
	dataCmntSize    int // host pages whose I/O has completed
	gcRunning       bool
	data            [][]byte // staging buffer, nil unless actively being written
}

// newBlock constructs a Block in its reset state, owned by pool, not
// currently bound to any append point.
func newBlock(index BlockIndex, pool PoolIndex, hostPagesPerBlock, hostPagesPerFlashPage int) *Block {
	b := &Block{
		index:                 index,
		pool:                  pool,
		ap:                    NoAP,
		hostPagesPerBlock:     hostPagesPerBlock,
		hostPagesPerFlashPage: hostPagesPerFlashPage,
		invalid:               bitmap.New(hostPagesPerBlock),
	}
	return b
}

// flashPageCount is the number of flash pages this block holds.
func (b *Block) flashPageCount() int {
	return b.hostPagesPerBlock / b.hostPagesPerFlashPage
}

// reset zeros the invalid bitmap and all cursors/counters under the
// block's own lock. Pool.getBlock calls it after releasing the pool lock.
func (b *Block) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.invalid.Clear()
	b.nrInvalidPages = 0
	b.nextPage = 0
	b.nextOffset = 0
	b.dataSize = 0
	b.dataCmntSize = 0
	b.gcRunning = false
	b.data = nil
}

// activate allocates the block's staging buffer. Called once a block has
// been popped from the free list and reset, becoming an active write
// target.
func (b *Block) activate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = make([][]byte, b.hostPagesPerBlock)
}

// isFull returns true once next_page has reached the block's flash-page
// count: every page in the block has been allocated.
func (b *Block) isFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextPage >= b.flashPageCount()
}

// pageSpecial is an optional hook (installed by extensions such as
// pkg/hints) consulted before a page is handed out; returning true rejects
// the page, forcing allocPhys to advance past it.
type pageSpecial func(b *Block, addr PhysAddr) bool

// allocPhys atomically advances the cursor and returns the next physical
// address, or (LTOPEmpty, false) if the block is full or special rejects
// every remaining page in the block; rejected pages are skipped, moving on
// into the next flash page when needed. base is the physical
// address of host page 0 of this block within the FTL's flat address
// space.
func (b *Block) allocPhys(base PhysAddr, special pageSpecial) (PhysAddr, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.nextPage < b.flashPageCount() {
		invariant(b.nextOffset < b.hostPagesPerFlashPage, "block %d: next_offset %d out of range", b.index, b.nextOffset)

		hostIndex := b.nextPage*b.hostPagesPerFlashPage + b.nextOffset
		addr := base + PhysAddr(hostIndex)

		b.nextOffset++
		saturated := b.nextOffset >= b.hostPagesPerFlashPage
		if saturated {
			b.nextOffset = 0
			b.nextPage++
		}

		if special != nil && special(b, addr) {
			continue
		}
		return addr, true
	}
	return LTOPEmpty, false
}

// invalidateBlockPage sets the bit for the page at the given block-relative
// offset and increments nr_invalid_pages. Re-invalidating the same page is
// a logic error and must be detected (spec.md §4.1); bitmap.Set panics with
// a plain string in that case, which this wraps into an *InvariantError so
// callers can recover it uniformly with errors.As.
func (b *Block) invalidateBlockPage(offset int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			panic(newInvariantError("block %d: invalidating offset %d: %v", b.index, offset, r))
		}
	}()
	b.invalid.Set(offset)
	b.nrInvalidPages++
	invalidationsTotal.Inc()
}

// commitHostPage records that one staged host page's I/O completed. When
// every page in the block has committed, it releases the staging buffer
// and reports true so the caller can enqueue the block on the pool's
// prio list.
func (b *Block) commitHostPage() (fullyCommitted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dataCmntSize++
	invariant(b.dataCmntSize <= b.hostPagesPerBlock, "block %d: data_cmnt_size overflow", b.index)
	if b.dataCmntSize == b.hostPagesPerBlock {
		b.data = nil
		return true
	}
	return false
}

// stageHostPage copies payload into the staging buffer at the given
// block-relative host-page offset and bumps data_size.
func (b *Block) stageHostPage(offset int, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	invariant(b.data != nil, "block %d: staging buffer not active", b.index)
	buf := make([]byte, len(payload))
	copy(buf, payload)
	b.data[offset] = buf
	b.dataSize++
}

// flashPagePayload returns the HostPagesPerFlashPage buffers that make up
// the flash page containing the given block-relative host-page offset, so
// the flash page is written to the device as a unit.
func (b *Block) flashPagePayload(offset int) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := (offset / b.hostPagesPerFlashPage) * b.hostPagesPerFlashPage
	return b.data[start : start+b.hostPagesPerFlashPage]
}

func (b *Block) setGCRunning(running bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gcRunning = running
}

// GCRunning reports whether GC currently owns this block for relocation.
// While true, reads of its pages through the primary map must defer
// (spec.md §4.8).
func (b *Block) GCRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gcRunning
}

// NrInvalidPages returns the number of pages currently marked invalid.
func (b *Block) NrInvalidPages() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nrInvalidPages
}

// DataCmntSize returns the number of host pages whose I/O has completed.
func (b *Block) DataCmntSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dataCmntSize
}

// HasStagingBuffer reports whether the block currently owns a staging
// buffer (i.e. it is an active write target not yet fully committed).
func (b *Block) HasStagingBuffer() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data != nil
}

// setAP installs or clears the block's back-reference to the append point
// currently writing it, under the block's own lock.
func (b *Block) setAP(idx APIndex) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ap = idx
}

// AP returns the append point currently bound to this block, or NoAP.
func (b *Block) AP() APIndex {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ap
}

// Index returns this block's stable index.
func (b *Block) Index() BlockIndex { return b.index }

// Package gc is the garbage-collection contract surface the core exposes
// (spec.md §4.8): the policy engine that decides which blocks to reclaim
// and when is explicitly out of scope. What this package provides is the
// mechanical side of a collection cycle — marking a block under
// relocation, walking its live pages, and relocating them — built
// entirely on top of pkg/ftl's already-exported hooks (KickGC's signal,
// PrioList, SetGCRunning, PutBlock, ReverseLookup, ReadPhysical, Write).
//
// Collector's default block-selection policy is deliberately the
// simplest one that exercises the contract: FIFO, first pool with a
// non-empty prio list, first block in it. A real policy engine would
// replace SelectBlock, not the rest of the cycle.
package gc

import (
	"context"
	"fmt"

	"github.com/VazKrishnan/lightnvm/pkg/ftl"
)

// Collector drives collection cycles against an FTL instance.
type Collector struct {
	f *ftl.FTL

	// SelectBlock picks the next block to reclaim, or nil if nothing is
	// eligible right now. The default is FIFO-by-pool; replace this
	// field to install a different policy without touching Run or
	// Collect.
	SelectBlock func(f *ftl.FTL) *ftl.Block

	warnf func(format string, args ...interface{})
}

// New constructs a Collector with the default FIFO block-selection
// policy.
func New(f *ftl.FTL) *Collector {
	c := &Collector{f: f, warnf: func(string, ...interface{}) {}}
	c.SelectBlock = c.selectBlockFIFO
	return c
}

// SetWarnf installs a diagnostic-logging hook, used to report relocation
// errors that the collector cannot otherwise surface (there is no
// upstream request to fail).
func (c *Collector) SetWarnf(warnf func(format string, args ...interface{})) {
	if warnf == nil {
		warnf = func(string, ...interface{}) {}
	}
	c.warnf = warnf
}

// selectBlockFIFO returns the first block in the first pool's prio list
// that has one, scanning pools in index order.
func (c *Collector) selectBlockFIFO(f *ftl.FTL) *ftl.Block {
	for i := 0; i < f.NumPools(); i++ {
		prio := f.Pool(ftl.PoolIndex(i)).PrioList()
		if len(prio) > 0 {
			return prio[0]
		}
	}
	return nil
}

// Run blocks until ctx is cancelled, running one collection cycle each
// time the FTL signals it has been kicked. It also drains the deferred
// queue after every cycle, so requests parked behind the block(s) just
// freed get a chance to proceed immediately rather than waiting for their
// own retry.
func (c *Collector) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.f.GCSignal():
			c.Collect()
			c.f.DrainDeferred()
		}
	}
}

// Collect runs a single collection cycle: select a block, mark it under
// relocation, move every live page out to its logical owner via a GC
// write, and return the reclaimed block to its pool's free list. It is
// a no-op if SelectBlock finds nothing eligible.
func (c *Collector) Collect() {
	block := c.SelectBlock(c.f)
	if block == nil {
		return
	}

	c.f.SetGCRunning(block, true)
	defer c.f.SetGCRunning(block, false)

	hostPagesPerBlock := c.f.Config().HostPagesPerBlock
	base := c.f.BlockBase(block)

	for offset := 0; offset < hostPagesPerBlock; offset++ {
		addr := base + ftl.PhysAddr(offset)
		rev, live := c.f.ReverseLookup(addr)
		if !live {
			continue
		}
		if err := c.relocatePage(block, offset, rev); err != nil {
			c.warnf("gc: relocating logical %d from block %d offset %d: %v", rev.Logical, block.Index(), offset, err)
		}
	}

	c.f.PutBlock(block)
}

// relocatePage reads the page's current content directly off the block
// being collected and rewrites it through the normal write path, tagged
// as a GC write so allocation draws from the append point's reserve
// block instead of competing with host writes for the host tier.
func (c *Collector) relocatePage(block *ftl.Block, offset int, rev ftl.ReverseEntry) error {
	payload := make([]byte, pagePayloadSize)
	if err := c.f.ReadPhysical(block, offset, payload); err != nil {
		return fmt.Errorf("read: %w", err)
	}

	done := make(chan error, 1)
	req := &ftl.Request{
		Sector:  uint64(rev.Logical) * uint64(c.f.Config().SectorsPerHostPage),
		Dir:     ftl.DirWrite,
		Payload: payload,
		Complete: func(*ftl.Request, error) {
		},
	}
	result, err := c.f.Write(req, ftl.WriteOpts{
		IsGC:       true,
		Map:        rev.Map,
		Completion: done,
	})
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if result == ftl.WriteDeferred {
		// The GC reserve itself is exhausted; leave the page where it
		// is and let a later cycle retry once space frees up.
		return nil
	}
	return <-done
}

// pagePayloadSize is the synthetic page size GC relocates in one shot.
// The core is payload-size-agnostic; cmd/ftlsim configures the same
// value for its host-facing requests.
const pagePayloadSize = 4096

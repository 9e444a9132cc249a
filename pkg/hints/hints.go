// Package hints implements the "hints-enabled" Type variant spec.md §9
// names as the second of the two vtable configurations ({default,
// hints-enabled}). It demonstrates the one hook the default vtable
// leaves nil: AllocPhysAddr (spec.md §4.1's page_special), which lets an
// application-level hint reject specific physical pages during
// allocation without the allocator or AppendPoint knowing why.
//
// The policy modeled here is deliberately narrow: an upstream hint marks
// a physical address "avoid" (for example, a page known to sit on a
// wearing-out region, or one an application asked be skipped for a
// colocation hint), and allocPhys simply steps past it.
package hints

import (
	"sync"

	"github.com/VazKrishnan/lightnvm/pkg/ftl"
)

// AvoidSet tracks physical addresses the allocator should skip. It is
// safe for concurrent use; it is consulted on every Block.allocPhys call
// across every pool, so Mark/Unmark are expected to be rare compared to
// lookups.
type AvoidSet struct {
	mu    sync.RWMutex
	avoid map[ftl.PhysAddr]struct{}
}

// NewAvoidSet returns an empty AvoidSet.
func NewAvoidSet() *AvoidSet {
	return &AvoidSet{avoid: make(map[ftl.PhysAddr]struct{})}
}

// Mark adds addr to the avoid set.
func (a *AvoidSet) Mark(addr ftl.PhysAddr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.avoid[addr] = struct{}{}
}

// Unmark removes addr from the avoid set.
func (a *AvoidSet) Unmark(addr ftl.PhysAddr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.avoid, addr)
}

// contains reports whether addr is currently marked.
func (a *AvoidSet) contains(addr ftl.PhysAddr) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.avoid[addr]
	return ok
}

// NewType returns a Type identical to ftl.DefaultType except that
// AllocPhysAddr rejects any page in avoid, forcing allocPhys to step past
// it to the next page of the same block (crossing into the next flash page
// if needed); only when every remaining page of the block is hinted away
// does the allocation move on to a new block.
func NewType(avoid *AvoidSet) *ftl.Type {
	typ := ftl.DefaultType()
	typ.AllocPhysAddr = func(_ *ftl.Block, addr ftl.PhysAddr) bool {
		return avoid.contains(addr)
	}
	return typ
}

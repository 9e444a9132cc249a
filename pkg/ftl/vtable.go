package ftl

// Type is the strategy-selection vtable spec.md §4.7/§9 describes: a
// capability set that lets an extension (pkg/hints) substitute selection
// policy without touching SubmitPipeline. The zero value is never used
// directly; construct one with DefaultType and override the fields an
// extension changes.
type Type struct {
	// LookupLtop resolves a logical address to a forward-entry handle
	// for the read path.
	LookupLtop func(f *FTL, l LogAddr) (*ForwardEntryHandle, error)
	// MapLtop reserves a physical address and installs a mapping for
	// the write path.
	MapLtop func(f *FTL, lock *addrLock, l LogAddr, isGC bool, mapID MapID) (*ForwardEntryHandle, error)
	// DeferBio parks a wrapper on the deferred queue and kicks GC.
	DeferBio func(f *FTL, w *RequestWrapper)
	// ReadBio drives the full read path for a bound wrapper.
	ReadBio func(f *FTL, w *RequestWrapper) error
	// WriteBio drives the full write path for a bound wrapper.
	WriteBio func(f *FTL, w *RequestWrapper, isGC bool) (WriteResult, error)
	// BioWaitAdd enqueues a wrapper on its pool's serialized waiting
	// list, reporting whether the caller must schedule the worker.
	BioWaitAdd func(f *FTL, w *RequestWrapper) bool
	// Endio is an optional hook consulted at completion time; it may
	// adjust the device-wait target (microseconds) before pacing. Nil
	// means no adjustment.
	Endio func(f *FTL, w *RequestWrapper, devWaitUS int64) int64
	// AllocPhysAddr is an optional page-rejection hook consulted by
	// Block.allocPhys (spec.md §4.1's page_special). Nil means every
	// page is eligible.
	AllocPhysAddr pageSpecial
}

// DefaultType returns the vtable the core uses absent an extension: the
// round-robin allocator, the pipeline's own read/write/defer logic, and no
// endio or page-special hooks.
func DefaultType() *Type {
	return &Type{
		LookupLtop: func(f *FTL, l LogAddr) (*ForwardEntryHandle, error) { return f.tm.lookupLtop(l) },
		MapLtop:    mapLtopRR,
		DeferBio:   (*FTL).deferRequest,
		ReadBio:    defaultReadBio,
		WriteBio:   defaultWriteBio,
		BioWaitAdd: func(f *FTL, w *RequestWrapper) bool { return f.pools[w.ap.pool].enqueueWaiting(w) },
	}
}

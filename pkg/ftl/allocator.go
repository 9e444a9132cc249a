package ftl

// mapLtopRR is the round-robin write allocator, spec.md §4.5. Host writes
// rotate across append points via a shared cursor; GC writes instead
// target the append point owned by the pool with the most free blocks, a
// best-effort survey that takes no locks. It reserves a physical address
// under the chosen AP's own lock, then, after that lock is released,
// installs the mapping under the translation map's revLock.
func mapLtopRR(f *FTL, lock *addrLock, l LogAddr, isGC bool, mapID MapID) (*ForwardEntryHandle, error) {
	var ap *AppendPoint
	if !isGC {
		idx := int(f.rrCursor.Add(1)-1) % len(f.aps)
		ap = f.aps[idx]
	} else {
		ap = f.surveyMostFreeAP()
	}

	pool := f.pools[ap.pool]
	block, addr, err := ap.allocAddr(isGC, pool, len(f.aps), f.typ.AllocPhysAddr)
	if err != nil {
		return nil, err
	}

	f.tm.updateMap(lock, l, addr, block, f.cfg.HostPagesPerBlock, mapID)
	return f.tm.handleFor(l)
}

// surveyMostFreeAP scans pools for the one with the most free blocks,
// ties resolving to the lowest index (stable scan), and returns the
// append point 1:1 with that pool. The read of each pool's free count is
// intentionally unsynchronized: spec.md §4.5 calls the survey
// "best-effort, no locking".
func (f *FTL) surveyMostFreeAP() *AppendPoint {
	best := 0
	bestFree := f.pools[0].nrFreeUnsafe()
	for i := 1; i < len(f.pools); i++ {
		if free := f.pools[i].nrFreeUnsafe(); free > bestFree {
			bestFree = free
			best = i
		}
	}
	return f.aps[best]
}

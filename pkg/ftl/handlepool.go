package ftl

// fixedPool is a fixed-capacity, non-blocking free list of pointers to T,
// backing the RequestWrapper and ForwardEntry handle pools spec.md §5
// requires: "allocation in hot paths uses non-blocking atomic semantics;
// allocation failures must never deadlock — the path either fails the
// request or defers." It is implemented as a pre-filled buffered channel,
// the same channel-as-freelist idiom the pack's merge-request queues use
// (LeftHandCold-hybridAllocator/hybrid/buddy.go's mergeChan).
type fixedPool[T any] struct {
	free chan *T
}

// newFixedPool creates a pool of capacity n, pre-populated by calling
// factory n times. A capacity of zero means unbounded: get reports no
// handle, getOrAlloc always allocates fresh, and put discards.
func newFixedPool[T any](n int, factory func() *T) *fixedPool[T] {
	if n <= 0 {
		return &fixedPool[T]{}
	}
	p := &fixedPool[T]{free: make(chan *T, n)}
	for i := 0; i < n; i++ {
		p.free <- factory()
	}
	return p
}

// get returns a handle, or nil if the pool is unbounded (fresh allocation
// is the caller's responsibility in that case) or exhausted.
func (p *fixedPool[T]) get() (*T, bool) {
	if p.free == nil {
		return nil, false
	}
	select {
	case v := <-p.free:
		return v, true
	default:
		return nil, false
	}
}

// put returns a handle to the pool. Unbounded pools discard it.
func (p *fixedPool[T]) put(v *T) {
	if p.free == nil {
		return
	}
	select {
	case p.free <- v:
	default:
		// Pool is over capacity (shouldn't happen if callers are
		// disciplined); drop rather than block.
	}
}

// bounded reports whether this pool enforces a fixed capacity.
func (p *fixedPool[T]) bounded() bool {
	return p.free != nil
}

// getOrAlloc returns a handle from the pool, falling back to factory when
// the pool is unbounded. It returns nil only when the pool is bounded and
// exhausted, so the caller can surface transient exhaustion.
func (p *fixedPool[T]) getOrAlloc(factory func() *T) *T {
	if v, ok := p.get(); ok {
		return v
	}
	if !p.bounded() {
		return factory()
	}
	return nil
}

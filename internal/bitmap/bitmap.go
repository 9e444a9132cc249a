// Package bitmap provides a word-granularity bit set used to track
// per-page state (e.g. invalidity) within a fixed-size erase block.
package bitmap

import "math/bits"

// Bitmap is a fixed-size set of bits, addressed by index in [0, Len).
// It is not safe for concurrent use; callers serialize access with their
// own lock (e.g. a block's mutex).
type Bitmap struct {
	words []uint64
	len   int
	count int
}

// New creates a Bitmap able to hold len bits, all initially clear.
func New(len int) *Bitmap {
	return &Bitmap{
		words: make([]uint64, (len+63)/64),
		len:   len,
	}
}

// Len returns the number of addressable bits.
func (b *Bitmap) Len() int {
	return b.len
}

// Test reports whether bit i is set.
func (b *Bitmap) Test(i int) bool {
	return b.words[i/64]&(1<<uint(i%64)) != 0
}

// Set sets bit i. Setting an already-set bit panics: callers use this to
// detect double-invalidation of the same page, which spec.md calls a logic
// error that must be detected.
func (b *Bitmap) Set(i int) {
	w, m := i/64, uint64(1)<<uint(i%64)
	if b.words[w]&m != 0 {
		panic("bitmap: bit already set")
	}
	b.words[w] |= m
	b.count++
}

// Clear clears every bit and resets the popcount, for block reuse.
func (b *Bitmap) Clear() {
	for i := range b.words {
		b.words[i] = 0
	}
	b.count = 0
}

// Popcount returns the number of set bits, tracked incrementally so callers
// can cheaply assert it against an independently maintained counter.
func (b *Bitmap) Popcount() int {
	return b.count
}

// Recount recomputes the popcount from the underlying words. Used by tests
// to verify the incremental counter in Popcount never drifts.
func (b *Bitmap) Recount() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

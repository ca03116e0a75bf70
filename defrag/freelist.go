package defrag

import (
	"fmt"
	"math/bits"
)

// NumBuckets is the number of power-of-two size classes.
const NumBuckets = 31

// bucketForSize returns floor(log2(sz)), or 0 for an empty size.
func bucketForSize(sz uint32) int {
	if sz == 0 {
		return 0
	}
	return bits.Len32(sz) - 1
}

func alignUp(x, align int64) int64 { return (x + align - 1) &^ (align - 1) }
func alignDown(x, align int64) int64 { return x &^ (align - 1) }

// window is the aligned allocation range a request would occupy in a free chunk.
type window struct {
	base, end           int64 // free chunk
	allocBase, allocEnd int64
}

func (w window) fits() bool { return w.base <= w.allocBase && w.allocEnd <= w.end }
func (w window) exact() bool {
	return w.allocBase == w.base && w.allocEnd == w.end
}
func (w window) wastage() int64 { return (w.allocBase - w.base) + (w.end - w.allocEnd) }

// windowFor computes where sz units aligned to align would land in c, either
// at the low end or the high end of the chunk.
func windowFor(c *chunk, sz, align uint32, lowHalf bool) window {
	w := window{base: int64(c.addr)}
	w.end = w.base + int64(c.attr.size())
	if lowHalf {
		w.allocBase = alignUp(w.base, int64(align))
	} else {
		w.allocBase = alignDown(w.end-int64(sz), int64(align))
	}
	w.allocEnd = w.allocBase + int64(sz)
	return w
}

// linkFreeChunk inserts idx into its bucket, keeping the bucket address ordered.
func (a *Allocator) linkFreeChunk(idx chunkIdx) {
	if c := &a.chunks[idx]; c.attr.load().busy() {
		panic("defrag: linking a busy chunk into a free list")
	}
	if !a.insertFree(idx) {
		panic(fmt.Sprintf("defrag: free list of chunk %d does not return to its root", idx))
	}
}

// insertFree links idx before the first bucket member at a higher address.
// It gives up and returns false when the scan takes more steps than there
// are chunks.
func (a *Allocator) insertFree(idx chunkIdx) bool {
	c := &a.chunks[idx]
	root := a.buckets[bucketForSize(c.attr.size())]

	before := a.chunks[root].links().next
	for steps := 0; before != root && a.chunks[before].addr <= c.addr; steps++ {
		if steps > len(a.chunks) {
			return false
		}
		before = a.chunks[before].links().next
	}

	after := a.chunks[before].links().prev
	l := c.links()
	l.prev = after
	l.next = before
	a.chunks[after].links().next = idx
	a.chunks[before].links().prev = idx
	return true
}

// unlinkFreeChunk removes idx from its bucket.
func (a *Allocator) unlinkFreeChunk(idx chunkIdx) {
	l := a.chunks[idx].links()
	a.chunks[l.prev].links().next = l.next
	a.chunks[l.next].links().prev = l.prev
	l.prev, l.next = invalidIndex, invalidIndex
}

// findBestFit scans buckets from the request's size class upward and returns
// the chunk with the least wastage among those starting in [lo, hi). The scan
// stops after the first bucket that yields any fit.
func (a *Allocator) findBestFit(sz, align uint32, lo, hi int64, lowHalf bool) chunkIdx {
	best := invalidIndex
	var bestWastage int64 = -1

	for b := bucketForSize(sz); best == invalidIndex && b < NumBuckets; b++ {
		root := a.buckets[b]
		for idx := a.chunks[root].links().next; idx != root; idx = a.chunks[idx].links().next {
			c := &a.chunks[idx]
			if int64(c.addr) >= hi {
				break
			}
			if int64(c.addr) < lo {
				continue
			}
			w := windowFor(c, sz, align, lowHalf)
			if !w.fits() {
				continue
			}
			if w.exact() {
				return idx
			}
			if ws := w.wastage(); bestWastage < 0 || ws < bestWastage {
				best, bestWastage = idx, ws
			}
		}
	}
	return best
}

// findFirstFit returns the first address-ordered chunk the request fits in,
// scanning buckets from the request's size class upward.
func (a *Allocator) findFirstFit(sz, align uint32, lo, hi int64, lowHalf bool) chunkIdx {
	for b := bucketForSize(sz); b < NumBuckets; b++ {
		root := a.buckets[b]
		for idx := a.chunks[root].links().next; idx != root; idx = a.chunks[idx].links().next {
			c := &a.chunks[idx]
			if int64(c.addr) >= hi {
				break
			}
			if int64(c.addr) < lo {
				continue
			}
			if windowFor(c, sz, align, lowHalf).fits() {
				return idx
			}
		}
	}
	return invalidIndex
}

func (a *Allocator) findFreeBlock(sz, align uint32) chunkIdx {
	hi := int64(a.capacity)
	if a.opts.Search == FirstFit {
		return a.findFirstFit(sz, align, 0, hi, true)
	}
	return a.findBestFit(sz, align, 0, hi, true)
}

// findBwd finds a destination for a block moving toward the front: a free
// chunk whose low-half window ends at or before limit. An exact fit in the
// request's own size class wins; otherwise the lowest fitting chunk of the
// first bucket with any fit.
func (a *Allocator) findBwd(sz, align uint32, limit int64) chunkIdx {
	minBucket := bucketForSize(sz)

	root := a.buckets[minBucket]
	for idx := a.chunks[root].links().next; idx != root; idx = a.chunks[idx].links().next {
		c := &a.chunks[idx]
		if int64(c.addr) >= limit {
			break
		}
		if w := windowFor(c, sz, align, true); w.exact() {
			return idx
		}
	}

	for b := minBucket; b < NumBuckets; b++ {
		root := a.buckets[b]
		for idx := a.chunks[root].links().next; idx != root; idx = a.chunks[idx].links().next {
			w := windowFor(&a.chunks[idx], sz, align, true)
			if w.allocEnd > limit {
				break
			}
			if w.fits() {
				return idx
			}
		}
	}
	return invalidIndex
}

// findFwd is the mirror of findBwd for blocks moving toward the back: chunks
// are scanned from the highest address down and the high-half window must
// start past limit.
func (a *Allocator) findFwd(sz, align uint32, limit int64) chunkIdx {
	minBucket := bucketForSize(sz)

	root := a.buckets[minBucket]
	for idx := a.chunks[root].links().prev; idx != root; idx = a.chunks[idx].links().prev {
		c := &a.chunks[idx]
		if int64(c.addr) < limit {
			break
		}
		if w := windowFor(c, sz, align, false); w.exact() {
			return idx
		}
	}

	for b := minBucket; b < NumBuckets; b++ {
		root := a.buckets[b]
		for idx := a.chunks[root].links().prev; idx != root; idx = a.chunks[idx].links().prev {
			c := &a.chunks[idx]
			if int64(c.addr) <= limit {
				break
			}
			if windowFor(c, sz, align, false).fits() {
				return idx
			}
		}
	}
	return invalidIndex
}

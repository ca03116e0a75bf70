package defrag

import "math/bits"

// splitResult names the leftover free chunks a split produced.
type splitResult struct {
	left, right chunkIdx
}

// splitChunksNeeded reports how many new chunk records splitting c for the
// window w would take.
func splitChunksNeeded(w window) int {
	n := 0
	if w.allocBase != w.base {
		n++
	}
	if w.allocEnd != w.end {
		n++
	}
	return n
}

// splitFreeBlock carves an aligned window of sz units out of free chunk idx.
// The chunk keeps its index and shrinks to the window; leftovers on either
// side become new free chunks. It fails only when the arena has no slots for
// the leftovers.
func (a *Allocator) splitFreeBlock(idx chunkIdx, sz, align uint32, lowHalf bool) (splitResult, bool) {
	res := splitResult{left: invalidIndex, right: invalidIndex}
	c := &a.chunks[idx]

	w := windowFor(c, sz, align, lowHalf)
	if !w.fits() {
		panic("defrag: split window outside the free chunk")
	}
	logAlign := uint8(bits.TrailingZeros32(align))

	if w.exact() {
		a.unlinkFreeChunk(idx)
		c.logAlign = logAlign
		return res, true
	}

	if !a.canAllocateChunks(splitChunksNeeded(w)) {
		return res, false
	}
	if w.allocBase != w.base {
		res.left = a.allocateChunk()
	}
	if w.allocEnd != w.end {
		res.right = a.allocateChunk()
	}

	// allocateChunk may have grown the arena.
	c = &a.chunks[idx]
	a.unlinkFreeChunk(idx)

	if res.left != invalidIndex {
		l := &a.chunks[res.left]
		l.addr = uint32(w.base)
		l.attr.setSize(uint32(w.allocBase - w.base))
		a.linkAddrChunk(res.left, c.addrPrev)
	}
	if res.right != invalidIndex {
		r := &a.chunks[res.right]
		r.addr = uint32(w.allocEnd)
		r.attr.setSize(uint32(w.end - w.allocEnd))
		a.linkAddrChunk(res.right, idx)
	}

	c.addr = uint32(w.allocBase)
	c.attr.setSize(sz)
	c.logAlign = logAlign

	if res.left != invalidIndex {
		a.linkFreeChunk(res.left)
	}
	if res.right != invalidIndex {
		a.linkFreeChunk(res.right)
	}

	if debugDefrag {
		a.mustValidate()
	}
	return res, true
}

// mergeFreeBlock links free chunk idx into its bucket and coalesces it with
// free address neighbours on either side. It returns the index of the
// resulting chunk, which is the left neighbour when that absorbed idx.
func (a *Allocator) mergeFreeBlock(idx chunkIdx) chunkIdx {
	c := &a.chunks[idx]
	if c.attr.load().busy() {
		panic("defrag: merging a busy chunk")
	}

	a.linkFreeChunk(idx)

	prevIdx := c.addrPrev
	prev := &a.chunks[prevIdx]
	if !prev.attr.load().busy() {
		a.unlinkFreeChunk(idx)
		a.unlinkFreeChunk(prevIdx)

		prev.attr.addSize(c.attr.size())
		prev.addrNext = c.addrNext
		a.chunks[c.addrNext].addrPrev = prevIdx

		a.linkFreeChunk(prevIdx)
		a.releaseChunk(idx)

		idx, c = prevIdx, prev
	}

	nextIdx := c.addrNext
	next := &a.chunks[nextIdx]
	if !next.attr.load().busy() {
		a.unlinkFreeChunk(idx)
		a.unlinkFreeChunk(nextIdx)

		c.attr.addSize(next.attr.size())
		c.addrNext = next.addrNext
		a.chunks[next.addrNext].addrPrev = idx

		a.linkFreeChunk(idx)
		a.releaseChunk(nextIdx)
	}

	if debugDefrag {
		a.mustValidate()
	}
	return idx
}

// markAsInUse turns a free chunk that has been unlinked from its bucket into
// an allocated block.
func (a *Allocator) markAsInUse(idx chunkIdx, ctx any) {
	c := &a.chunks[idx]
	w := c.attr.load()
	c.attr.store(attrWord(w.size()) | busyBit)
	c.setBusy(ctx)
	a.available -= w.size()
	a.numAllocs++
}

// markAsFree clears the busy, moving and pin state of an allocated block. The
// caller merges it afterwards.
func (a *Allocator) markAsFree(idx chunkIdx) {
	c := &a.chunks[idx]
	w := c.attr.load()
	if !w.busy() {
		panic(ErrNotBusy)
	}
	c.attr.store(attrWord(w.size()))
	c.setFree()
	c.source = ""
	a.available += w.size()
	a.numAllocs--
}

// freeBlock releases an allocated block back into the free lists.
func (a *Allocator) freeBlock(idx chunkIdx) chunkIdx {
	a.markAsFree(idx)
	return a.mergeFreeBlock(idx)
}

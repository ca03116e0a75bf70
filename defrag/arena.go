package defrag

// Reserved arena slots.
const (
	addrStart chunkIdx = 0
	addrEnd   chunkIdx = 1
	firstRoot chunkIdx = 2

	// reservedChunks counts the address-list sentinels and bucket roots.
	reservedChunks = int(firstRoot) + NumBuckets
)

// allocateChunk takes a slot from the unused stack, growing the arena when it
// is not fixed. It returns invalidIndex when the fixed arena is exhausted.
func (a *Allocator) allocateChunk() chunkIdx {
	var idx chunkIdx
	switch {
	case len(a.unused) > 0:
		idx = a.unused[len(a.unused)-1]
		a.unused = a.unused[:len(a.unused)-1]
	case !a.fixed:
		a.chunks = append(a.chunks, chunk{})
		idx = chunkIdx(len(a.chunks) - 1)
	default:
		return invalidIndex
	}

	c := &a.chunks[idx]
	c.attr.store(0)
	c.addrPrev, c.addrNext = invalidIndex, invalidIndex
	c.logAlign = 0
	c.source = ""
	c.setFree()
	return idx
}

// releaseChunk returns a slot to the unused stack. The chunk must already be
// unlinked from the address and free lists.
func (a *Allocator) releaseChunk(idx chunkIdx) {
	c := &a.chunks[idx]
	c.payload = nil
	c.source = ""
	a.unused = append(a.unused, idx)
}

// canAllocateChunks reports whether n slots can be taken without failing.
func (a *Allocator) canAllocateChunks(n int) bool {
	return !a.fixed || len(a.unused) >= n
}

// index resolves a caller handle, panicking on handles that cannot name a
// block.
func (a *Allocator) index(h Handle) chunkIdx {
	if h == InvalidHandle {
		panic(ErrBadHandle)
	}
	idx := chunkIdx(h - 1)
	if int(idx) < reservedChunks || int(idx) >= len(a.chunks) {
		panic(ErrBadHandle)
	}
	return idx
}

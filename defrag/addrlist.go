package defrag

// linkAddrChunk inserts idx into the address list directly after after.
func (a *Allocator) linkAddrChunk(idx, after chunkIdx) {
	c := &a.chunks[idx]
	prev := &a.chunks[after]

	c.addrPrev = after
	c.addrNext = prev.addrNext
	a.chunks[prev.addrNext].addrPrev = idx
	prev.addrNext = idx
}

// unlinkAddrChunk removes idx from the address list.
func (a *Allocator) unlinkAddrChunk(idx chunkIdx) {
	c := &a.chunks[idx]
	a.chunks[c.addrPrev].addrNext = c.addrNext
	a.chunks[c.addrNext].addrPrev = c.addrPrev
	c.addrPrev, c.addrNext = invalidIndex, invalidIndex
}

// swapAddrChunks exchanges the address-list positions of two busy chunks of
// equal size, along with their addresses and alignment classes. The caller's
// handle for b then names the range a used to occupy.
func (a *Allocator) swapAddrChunks(na, nb chunkIdx) {
	pa, pb := &a.chunks[na], &a.chunks[nb]

	switch {
	case pa.addrNext == nb:
		pb.addrPrev = pa.addrPrev
		pa.addrNext = pb.addrNext
		pa.addrPrev = nb
		pb.addrNext = na
		a.chunks[pb.addrPrev].addrNext = nb
		a.chunks[pa.addrNext].addrPrev = na
	case pa.addrPrev == nb:
		pb.addrNext = pa.addrNext
		pa.addrPrev = pb.addrPrev
		pb.addrPrev = na
		pa.addrNext = nb
		a.chunks[pa.addrPrev].addrNext = na
		a.chunks[pb.addrNext].addrPrev = nb
	default:
		pa.addrNext, pb.addrNext = pb.addrNext, pa.addrNext
		pa.addrPrev, pb.addrPrev = pb.addrPrev, pa.addrPrev
		a.chunks[pa.addrPrev].addrNext = na
		a.chunks[pa.addrNext].addrPrev = na
		a.chunks[pb.addrPrev].addrNext = nb
		a.chunks[pb.addrNext].addrPrev = nb
	}

	pa.addr, pb.addr = pb.addr, pa.addr
	pa.logAlign, pb.logAlign = pb.logAlign, pa.logAlign
}

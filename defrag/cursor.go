package defrag

import "math"

// freeCursor walks every free chunk in address order, front to back or back
// to front, by merging the address-ordered bucket lists. It stays valid
// across splits as long as removals and insertions are reported to it.
type freeCursor struct {
	a   *Allocator
	fwd bool

	// pos holds the next unvisited chunk of each bucket, or the bucket root
	// once the bucket is exhausted.
	pos [NumBuckets]chunkIdx

	// last is the address of the most recently returned chunk.
	last int64
}

func (a *Allocator) newFreeCursor(fwd bool) *freeCursor {
	fc := &freeCursor{a: a, fwd: fwd}
	if fwd {
		fc.last = -1
	} else {
		fc.last = math.MaxInt64
	}
	for b := range NumBuckets {
		root := a.buckets[b]
		fc.pos[b] = fc.step(root)
	}
	return fc
}

func (fc *freeCursor) step(idx chunkIdx) chunkIdx {
	l := fc.a.chunks[idx].links()
	if fc.fwd {
		return l.next
	}
	return l.prev
}

// nearer reports whether address x comes before y in scan order.
func (fc *freeCursor) nearer(x, y int64) bool {
	if fc.fwd {
		return x < y
	}
	return x > y
}

// next returns the next free chunk in scan order.
func (fc *freeCursor) next() (chunkIdx, bool) {
	best := -1
	var bestAddr int64
	for b := range NumBuckets {
		if fc.pos[b] == fc.a.buckets[b] {
			continue
		}
		addr := int64(fc.a.chunks[fc.pos[b]].addr)
		if best < 0 || fc.nearer(addr, bestAddr) {
			best, bestAddr = b, addr
		}
	}
	if best < 0 {
		return invalidIndex, false
	}

	idx := fc.pos[best]
	fc.pos[best] = fc.step(idx)
	fc.last = bestAddr
	return idx, true
}

// remove must be called before idx is unlinked from its bucket.
func (fc *freeCursor) remove(idx chunkIdx) {
	b := bucketForSize(fc.a.chunks[idx].attr.size())
	if fc.pos[b] == idx {
		fc.pos[b] = fc.step(idx)
	}
}

// insert registers a free chunk linked after the cursor was created. Chunks
// on the visited side of the cursor are ignored.
func (fc *freeCursor) insert(idx chunkIdx) {
	if idx == invalidIndex {
		return
	}
	c := &fc.a.chunks[idx]
	addr := int64(c.addr)
	if !fc.nearer(fc.last, addr) {
		return
	}
	b := bucketForSize(c.attr.size())
	if cur := fc.pos[b]; cur == fc.a.buckets[b] || fc.nearer(addr, int64(fc.a.chunks[cur].addr)) {
		fc.pos[b] = idx
	}
}

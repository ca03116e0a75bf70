package defrag

import (
	"fmt"
	"math/bits"
)

// AllocatePinnedResult is the outcome of AllocatePinned.
type AllocatePinnedResult struct {
	Handle     Handle
	Offset     uint64
	UsableSize uint64
}

// Allocate reserves size bytes at the minimum alignment. It returns
// InvalidHandle when no free block can hold the request.
func (a *Allocator) Allocate(size uint64, source string, ctx any) Handle {
	a.lock()
	defer a.unlock()
	return a.allocateLocked(size, uint64(a.minAlign), source, ctx)
}

// AllocateAligned reserves size bytes at an offset that is a multiple of
// alignment. Alignments below the minimum are raised to it; alignments that
// are not a power of two are rounded up to the next one.
func (a *Allocator) AllocateAligned(size, alignment uint64, source string, ctx any) Handle {
	alignment = max(alignment, uint64(a.minAlign))
	if alignment&(alignment-1) != 0 {
		if alignment > 1<<63 {
			return InvalidHandle
		}
		alignment = 1 << bits.Len64(alignment)
	}

	a.lock()
	defer a.unlock()
	return a.allocateLocked(size, alignment, source, ctx)
}

// AllocatePinned allocates at the minimum alignment and pins the result.
func (a *Allocator) AllocatePinned(size uint64, source string, ctx any) AllocatePinnedResult {
	a.lock()
	defer a.unlock()

	h := a.allocateLocked(size, uint64(a.minAlign), source, ctx)
	if h == InvalidHandle {
		return AllocatePinnedResult{}
	}
	c := &a.chunks[h-1]
	c.attr.pin()
	return AllocatePinnedResult{
		Handle:     h,
		Offset:     a.bytes(c.addr),
		UsableSize: a.bytes(c.attr.size()),
	}
}

func (a *Allocator) allocateLocked(size, alignment uint64, source string, ctx any) Handle {
	// Empty requests still occupy one unit so every handle names a distinct range.
	if size == 0 {
		size = 1
	}
	if size > uint64(MaxBlockUnits)<<a.logMinAlign || alignment>>a.logMinAlign > uint64(a.capacity) {
		return InvalidHandle
	}
	units64 := (size + alignment - 1) &^ (alignment - 1) >> a.logMinAlign
	if units64 > MaxBlockUnits || units64 > uint64(a.available) {
		return InvalidHandle
	}
	units, alignUnits := uint32(units64), uint32(alignment>>a.logMinAlign)

	idx := a.findFreeBlock(units, alignUnits)
	if idx == invalidIndex {
		return InvalidHandle
	}
	if _, ok := a.splitFreeBlock(idx, units, alignUnits, true); !ok {
		return InvalidHandle
	}

	a.markAsInUse(idx, ctx)
	a.chunks[idx].source = source
	a.postMutate()
	return handleFor(idx)
}

// Free releases the block named by h and coalesces it with free neighbours.
// A block that is being moved has its move cancelled first. Free returns
// false for InvalidHandle.
func (a *Allocator) Free(h Handle) bool {
	a.lock()
	defer a.unlock()

	if h == InvalidHandle {
		return false
	}
	idx := a.index(h)
	w := a.chunks[idx].attr.load()
	if !w.busy() {
		panic(fmt.Errorf("%w: free of handle %d", ErrNotBusy, h))
	}

	if w.moving() {
		a.cancelMoveLocked(idx, false)
	}

	a.freeBlock(idx)
	a.postMutate()
	return true
}

// ChangeContext replaces the opaque context handed to the policy for h.
func (a *Allocator) ChangeContext(h Handle, ctx any) {
	a.lock()
	defer a.unlock()

	idx := a.index(h)
	c := &a.chunks[idx]
	if !c.attr.load().busy() {
		panic(fmt.Errorf("%w: change context of handle %d", ErrNotBusy, h))
	}
	c.setBusy(ctx)
}

// Context returns the opaque context registered for h.
func (a *Allocator) Context(h Handle) any {
	a.lock()
	defer a.unlock()
	return a.chunks[a.index(h)].context()
}

// UsableSize returns the size in bytes of the block named by h, which is the
// requested size rounded up to its alignment.
func (a *Allocator) UsableSize(h Handle) uint64 {
	return a.bytes(a.chunks[a.index(h)].attr.size())
}

// SourceOf returns the label recorded when h was allocated.
func (a *Allocator) SourceOf(h Handle) string {
	a.lock()
	defer a.unlock()
	return a.chunks[a.index(h)].source
}

package defrag

import (
	"fmt"
	"math"
)

const segmentSentinelSource = "segment sentinel"

// AppendSegment extends the address space by capacity bytes. The new
// segment starts at the current end of the address space.
func (a *Allocator) AppendSegment(capacity uint64) error {
	a.lock()
	defer a.unlock()

	if capacity == 0 || capacity&uint64(a.minAlign-1) != 0 || capacity>>a.logMinAlign > MaxBlockUnits {
		return fmt.Errorf("%w: segment of %d bytes", ErrBadCapacity, capacity)
	}
	units := uint32(capacity >> a.logMinAlign)
	if uint64(a.capacity)+uint64(units) > math.MaxUint32 {
		return fmt.Errorf("%w: address space full", ErrBadCapacity)
	}
	if a.opts.MaxSegments > 0 && len(a.segments) >= a.opts.MaxSegments {
		return ErrSegmentLimit
	}
	if !a.canAllocateChunks(2) {
		return ErrNoChunks
	}

	base := a.capacity

	head := a.allocateChunk()
	free := a.allocateChunk()

	h := &a.chunks[head]
	h.addr = base
	h.attr.store(busyBit | pinOne)
	h.setBusy(nil)
	h.source = segmentSentinelSource

	f := &a.chunks[free]
	f.addr = base
	f.attr.setSize(units)

	a.linkAddrChunk(head, a.chunks[addrEnd].addrPrev)
	a.linkAddrChunk(free, head)
	a.linkFreeChunk(free)
	a.chunks[addrEnd].addr = base + units

	a.segments = append(a.segments, segment{base: base, capacity: units, head: head})
	a.capacity += units
	a.available += units

	a.log().Debug("segment appended", "index", len(a.segments)-1,
		"base", a.bytes(base), "capacity", capacity)
	a.postMutate()
	return nil
}

// UnAppendSegment removes the most recently appended segment. Pending moves
// are finalized first and any live blocks in the segment are copied
// synchronously into earlier segments through the policy. If moves are still
// in flight or a block cannot be moved out the segment is kept; blocks that
// were already copied stay in their new place.
func (a *Allocator) UnAppendSegment() error {
	a.lock()
	defer a.unlock()

	if len(a.segments) <= 1 {
		return ErrLastSegment
	}
	if a.policy != nil && a.completePendingMoves() {
		return ErrPendingMoves
	}

	segIdx := len(a.segments) - 1
	if err := a.syncMoveSegment(segIdx); err != nil {
		return err
	}

	seg := a.segments[segIdx]
	end := seg.base + seg.capacity

	idx := a.chunks[seg.head].addrNext
	a.unlinkAddrChunk(seg.head)
	a.releaseChunk(seg.head)

	for a.chunks[idx].addr != end {
		c := &a.chunks[idx]
		if c.attr.load().busy() {
			panic("defrag: live block left in a drained segment")
		}
		next := c.addrNext
		a.unlinkFreeChunk(idx)
		a.unlinkAddrChunk(idx)
		a.releaseChunk(idx)
		idx = next
	}
	if idx != addrEnd {
		panic("defrag: segment does not end at the end sentinel")
	}

	a.chunks[addrEnd].addr -= seg.capacity
	a.capacity -= seg.capacity
	a.available -= seg.capacity
	a.segments = a.segments[:segIdx]

	a.log().Debug("segment removed", "index", segIdx, "capacity", a.bytes(seg.capacity))
	a.postMutate()
	return nil
}

// NumSegments returns the number of segments, including the initial one.
func (a *Allocator) NumSegments() int {
	a.lock()
	defer a.unlock()
	return len(a.segments)
}

// syncMoveSegment copies every live block of segment segIdx into free space
// in earlier segments.
func (a *Allocator) syncMoveSegment(segIdx int) error {
	seg := a.segments[segIdx]
	end := seg.base + seg.capacity

	idx := a.chunks[seg.head].addrNext
	for a.chunks[idx].addr != end {
		c := &a.chunks[idx]
		w := c.attr.load()
		if w.busy() {
			if a.policy == nil {
				return ErrNoPolicy
			}
			if w.moving() || w.pinned() {
				return fmt.Errorf("%w: block at %d is pinned", ErrSegmentBusy, a.bytes(c.addr))
			}

			sz, align := w.size(), c.align()
			dst := invalidIndex
			for s := 0; dst == invalidIndex && s < segIdx; s++ {
				lo := int64(a.segments[s].base)
				dst = a.findBestFit(sz, align, lo, lo+int64(a.segments[s].capacity), true)
			}
			if dst == invalidIndex {
				return fmt.Errorf("%w: no room for %d bytes", ErrSegmentBusy, a.bytes(sz))
			}
			if _, ok := a.splitFreeBlock(dst, sz, align, true); !ok {
				return fmt.Errorf("%w: %w", ErrSegmentBusy, ErrNoChunks)
			}
			c = &a.chunks[idx]

			a.markAsInUse(dst, nil)
			a.chunks[dst].attr.pin()
			if !c.attr.tryMarkAsMoving() {
				a.freeBlock(dst)
				return fmt.Errorf("%w: block at %d was pinned", ErrSegmentBusy, a.bytes(c.addr))
			}

			a.policy.SyncCopy(c.context(), a.bytes(a.chunks[dst].addr), a.bytes(c.addr), a.bytes(sz))
			a.relocate(InvalidMoveID, idx, dst)

			c.attr.markAsNotMoving()
			a.chunks[dst].attr.unpin()
			idx = a.freeBlock(dst)
		}
		idx = a.chunks[idx].addrNext
	}
	return nil
}

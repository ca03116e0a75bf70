package defrag

import "fmt"

// pendingMove tracks one scheduled copy. A slot is free when dst is
// invalidIndex.
type pendingMove struct {
	src, dst  chunkIdx
	moveID    uint32
	note      *Notification
	relocated bool
	cancelled bool
}

func (pm *pendingMove) reset() {
	*pm = pendingMove{src: invalidIndex, dst: invalidIndex}
}

func (pm *pendingMove) live() bool { return pm.dst != invalidIndex }

func (a *Allocator) resetMoves() {
	for i := range a.moves {
		a.moves[i].reset()
	}
}

// allocPendingMove returns a free slot, or nil when the table is full.
func (a *Allocator) allocPendingMove() *pendingMove {
	for i := range a.moves {
		if !a.moves[i].live() {
			return &a.moves[i]
		}
	}
	return nil
}

func (a *Allocator) freePendingSlots() int {
	n := 0
	for i := range a.moves {
		if !a.moves[i].live() {
			n++
		}
	}
	return n
}

// PendingMoves returns the number of moves scheduled but not yet finalized.
func (a *Allocator) PendingMoves() int {
	a.lock()
	defer a.unlock()
	return MaxPendingMoves - a.freePendingSlots()
}

// completePendingMoves finalizes every move whose notification has advanced
// and reports whether any moves remain in flight.
func (a *Allocator) completePendingMoves() bool {
	hasMoves := false

	for i := range a.moves {
		pm := &a.moves[i]
		if !pm.live() {
			continue
		}
		n := pm.note

		if n.Cancelled() {
			a.freeBlock(pm.dst)
			if pm.src != invalidIndex {
				a.chunks[pm.src].attr.markAsNotMoving()
			}
			if logMoves {
				a.log().Debug("move cancelled by policy", "move_id", pm.moveID)
			}
			pm.reset()
			continue
		}

		if n.DstIsValid() {
			if !pm.relocated {
				if !pm.cancelled {
					a.relocate(pm.moveID, pm.src, pm.dst)
				}
				pm.relocated = true
			}

			// Relocate may have released the source synchronously.
			if n.SrcIsUnneeded() {
				a.freeBlock(pm.dst)
				if !pm.cancelled {
					a.chunks[pm.src].attr.markAsNotMoving()
				}
				if logMoves {
					a.log().Debug("move completed", "move_id", pm.moveID, "cancelled", pm.cancelled)
				}
				pm.reset()
			}
		}

		if pm.live() {
			hasMoves = true
		}
	}

	a.postMutate()
	return hasMoves
}

// relocate swaps the identities of src and dst so that the caller's handle
// for src names the range the copy was written to, then tells the policy.
// A zero moveID skips the notification.
func (a *Allocator) relocate(moveID uint32, src, dst chunkIdx) {
	s, d := &a.chunks[src], &a.chunks[dst]
	sw, dw := s.attr.load(), d.attr.load()
	if !sw.moving() || !dw.pinned() || dw.moving() || sw.size() != dw.size() {
		panic(fmt.Sprintf("defrag: relocate of inconsistent pair src(%v) dst(%v)", sw, dw))
	}

	oldAddr, newAddr := s.addr, d.addr
	a.swapAddrChunks(dst, src)

	if moveID != InvalidMoveID {
		a.policy.Relocate(moveID, s.context(), a.bytes(newAddr), a.bytes(oldAddr), a.bytes(sw.size()))
	}
}

// findMove returns the live move whose source is idx.
func (a *Allocator) findMove(src chunkIdx) *pendingMove {
	for i := range a.moves {
		if a.moves[i].live() && a.moves[i].src == src {
			return &a.moves[i]
		}
	}
	return nil
}

func (a *Allocator) cancelMove(idx chunkIdx, contentNeeded bool) {
	a.lock()
	defer a.unlock()
	a.cancelMoveLocked(idx, contentNeeded)
}

// cancelMoveLocked resolves the move of chunk idx so the chunk stops moving.
// Redundant cancels are ignored.
func (a *Allocator) cancelMoveLocked(idx chunkIdx, contentNeeded bool) {
	c := &a.chunks[idx]
	if !c.attr.load().moving() {
		return
	}

	pm := a.findMove(idx)
	if pm == nil {
		panic(fmt.Sprintf("defrag: chunk %d is moving without a pending move", idx))
	}
	n := pm.note

	switch {
	case n.Cancelled() || (n.DstIsValid() && n.SrcIsUnneeded()):
		// Finished or abandoned by the policy, just not finalized yet.
		a.freeBlock(pm.dst)
		pm.reset()
	case !n.DstIsValid() && !n.SrcIsUnneeded():
		// Nothing has been reported yet. Once the policy has stopped the copy
		// the destination can go straight back to the free lists.
		a.policy.CancelCopy(pm.moveID, c.context(), true)
		a.freeBlock(pm.dst)
		pm.reset()
	default:
		// The copy is in flight. Let it land and discard the result at the
		// next tick.
		a.policy.CancelCopy(pm.moveID, c.context(), false)
		pm.src = invalidIndex
		pm.cancelled = true
	}

	c.attr.markAsNotMoving()
	a.cancelledMoves++

	a.log().Debug("move cancelled", "chunk", idx, "content_needed", contentNeeded)
	a.postMutate()
}

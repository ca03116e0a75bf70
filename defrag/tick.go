package defrag

// DefragmentTick finalizes moves reported complete since the last tick and
// schedules up to maxMoves new moves totalling about maxAmount bytes. With
// force unset it gives up immediately if another goroutine holds the lock.
// It returns the number of bytes scheduled.
func (a *Allocator) DefragmentTick(maxMoves int, maxAmount uint64, force bool) uint64 {
	if a.policy == nil {
		return 0
	}
	if force {
		a.lock()
	} else if !a.tryLock() {
		return 0
	}
	defer a.unlock()

	a.completePendingMoves()

	maxMoves = min(maxMoves, a.freePendingSlots())
	if a.fixed {
		// Assume every move needs a split.
		maxMoves = min(maxMoves, len(a.unused))
	}
	maxAmount >>= a.logMinAlign

	var cur uint64
	numMoves := 0
	if maxMoves > 0 {
		numMoves = a.findMovesBwd(maxMoves, &cur, maxAmount)
		if numMoves < maxMoves {
			numMoves += a.findMovesFwd(maxMoves-numMoves, &cur, maxAmount)
		}
	}

	if numMoves > 0 {
		a.log().Debug("defrag tick", "moves", numMoves, "bytes", cur<<a.logMinAlign)
	}
	a.postMutate()
	return cur << a.logMinAlign
}

type moveResult uint8

const (
	moveScheduled moveResult = iota
	moveSkipped
	moveTableFull
)

// tryMove attempts to schedule a move of cand into a free chunk below limit
// (backward scan) or above it (forward scan). On success the destination is
// split, reserved busy and pinned, and the cursor is patched for the split.
func (a *Allocator) tryMove(fc *freeCursor, cand chunkIdx, limit int64, cur *uint64) (moveResult, chunkIdx, splitResult) {
	none := splitResult{left: invalidIndex, right: invalidIndex}
	c := &a.chunks[cand]
	w := c.attr.load()
	if !w.movable() {
		return moveSkipped, invalidIndex, none
	}

	sz, align := w.size(), c.align()
	lowHalf := !fc.fwd

	var dst chunkIdx
	if fc.fwd {
		dst = a.findFwd(sz, align, limit)
	} else {
		dst = a.findBwd(sz, align, limit)
	}
	if dst == invalidIndex {
		return moveSkipped, invalidIndex, none
	}

	pm := a.allocPendingMove()
	if pm == nil {
		return moveTableFull, invalidIndex, none
	}

	win := windowFor(&a.chunks[dst], sz, align, lowHalf)
	if !win.exact() && !a.canAllocateChunks(splitChunksNeeded(win)) {
		return moveSkipped, invalidIndex, none
	}

	// The candidate may have been pinned since its attributes were read.
	if !c.attr.tryMarkAsMoving() {
		return moveSkipped, invalidIndex, none
	}

	note := &Notification{}
	id := a.policy.BeginCopy(c.context(), a.bytes(uint32(win.allocBase)), a.bytes(c.addr), a.bytes(sz), note)
	if id == InvalidMoveID {
		c.attr.markAsNotMoving()
		if logMoves {
			a.log().Debug("move rejected by policy", "src", a.bytes(c.addr), "size", a.bytes(sz))
		}
		return moveSkipped, invalidIndex, none
	}

	fc.remove(dst)
	sr, ok := a.splitFreeBlock(dst, sz, align, lowHalf)
	if !ok {
		panic("defrag: destination split failed after copy was scheduled")
	}
	fc.insert(sr.left)
	fc.insert(sr.right)

	a.markAsInUse(dst, nil)
	a.chunks[dst].attr.setPinCount(1)

	*pm = pendingMove{src: cand, dst: dst, moveID: id, note: note}
	*cur += uint64(sz)

	if logMoves {
		a.log().Debug("move scheduled", "move_id", id,
			"src", a.bytes(a.chunks[cand].addr), "dst", a.bytes(a.chunks[dst].addr), "size", a.bytes(sz))
	}
	return moveScheduled, dst, sr
}

// findMovesBwd walks free chunks from the back of the heap and moves the
// blocks around each one toward the front.
func (a *Allocator) findMovesBwd(maxMoves int, cur *uint64, maxAmount uint64) int {
	fc := a.newFreeCursor(false)
	numMoves := 0
	isLast := true
	seg := len(a.segments) - 1

	for numMoves < maxMoves {
		freeIdx, ok := fc.next()
		if !ok {
			break
		}

		// The highest free chunk of each segment has nothing useful after it.
		if seg >= 0 && a.chunks[freeIdx].addr < a.segments[seg].base {
			isLast = true
			for seg >= 0 && a.chunks[freeIdx].addr < a.segments[seg].base {
				seg--
			}
		}

		if !isLast {
			// Pull the blocks that follow the free chunk down, possibly into
			// the free chunk itself.
			cand := a.chunks[freeIdx].addrNext
			for freeIdx != invalidIndex && numMoves < maxMoves && *cur < maxAmount {
				free := &a.chunks[freeIdx]
				limit := int64(free.end())

				res, dst, sr := a.tryMove(fc, cand, limit, cur)
				if res == moveTableFull {
					return numMoves
				}
				if res != moveScheduled {
					break
				}
				numMoves++
				cand = a.chunks[cand].addrNext
				if dst == freeIdx {
					freeIdx = sr.right
				}
			}
		}

		if freeIdx != invalidIndex {
			// Then move the blocks in front of it further forward.
			cand := a.chunks[freeIdx].addrPrev
			for numMoves < maxMoves && *cur < maxAmount {
				limit := int64(a.chunks[cand].addr)

				res, _, _ := a.tryMove(fc, cand, limit, cur)
				if res == moveTableFull {
					return numMoves
				}
				if res != moveScheduled {
					break
				}
				numMoves++
				cand = a.chunks[cand].addrPrev
			}
		}

		isLast = false
	}
	return numMoves
}

// findMovesFwd walks free chunks from the front of the heap and moves the
// blocks that follow each one toward the back.
func (a *Allocator) findMovesFwd(maxMoves int, cur *uint64, maxAmount uint64) int {
	fc := a.newFreeCursor(true)
	numMoves := 0

	for numMoves < maxMoves {
		freeIdx, ok := fc.next()
		if !ok {
			break
		}

		cand := a.chunks[freeIdx].addrNext
		for numMoves < maxMoves && *cur < maxAmount {
			limit := int64(a.chunks[freeIdx].end())

			res, _, _ := a.tryMove(fc, cand, limit, cur)
			if res == moveTableFull {
				return numMoves
			}
			if res != moveScheduled {
				break
			}
			numMoves++
			cand = a.chunks[cand].addrNext
		}
	}
	return numMoves
}

package defrag

// Stats summarizes the allocator state. Sizes are in bytes.
type Stats struct {
	Capacity    uint64 `json:"capacity"`
	InUseSize   uint64 `json:"in_use_size"`
	InUseBlocks int    `json:"in_use_blocks"`

	FreeBlocks   int `json:"free_blocks"`
	PinnedBlocks int `json:"pinned_blocks"`
	MovingBlocks int `json:"moving_blocks"`

	LargestFree  uint64 `json:"largest_free"`
	SmallestFree uint64 `json:"smallest_free"`
	MeanFree     uint64 `json:"mean_free"`

	CancelledMoves uint64 `json:"cancelled_moves"`
}

// Available returns the free space in bytes.
func (s Stats) Available() uint64 { return s.Capacity - s.InUseSize }

// Stats walks the address list once and aggregates the current state.
func (a *Allocator) Stats() Stats {
	a.lock()
	defer a.unlock()

	st := Stats{
		Capacity:       a.bytes(a.capacity),
		InUseSize:      a.bytes(a.capacity - a.available),
		InUseBlocks:    int(a.numAllocs),
		CancelledMoves: a.cancelledMoves,
	}

	var pinned, moving int
	var maxFree, minFree uint32
	for idx := a.chunks[addrStart].addrNext; idx != addrEnd; idx = a.chunks[idx].addrNext {
		w := a.chunks[idx].attr.load()
		if w.busy() {
			if w.pinned() {
				pinned++
			}
			if w.moving() {
				moving++
			}
			continue
		}
		if st.FreeBlocks == 0 || w.size() < minFree {
			minFree = w.size()
		}
		maxFree = max(maxFree, w.size())
		st.FreeBlocks++
	}

	// Every moving block pins its destination, and so does a move whose
	// source was cancelled mid-copy until the next tick discards it. Every
	// appended segment has a pinned head sentinel.
	orphaned := 0
	for i := range a.moves {
		if pm := &a.moves[i]; pm.live() && pm.src == invalidIndex {
			orphaned++
		}
	}
	st.PinnedBlocks = max(0, pinned-moving-orphaned-(len(a.segments)-1))
	st.MovingBlocks = moving
	st.LargestFree = a.bytes(maxFree)
	st.SmallestFree = a.bytes(minFree)
	if st.FreeBlocks > 0 {
		st.MeanFree = a.bytes(a.available) / uint64(st.FreeBlocks)
	}
	return st
}

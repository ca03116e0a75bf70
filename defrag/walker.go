package defrag

// Block describes one entry of the address list.
type Block struct {
	Handle   Handle `json:"handle,omitempty"`
	Offset   uint64 `json:"offset"`
	Size     uint64 `json:"size"`
	Busy     bool   `json:"busy"`
	Moving   bool   `json:"moving,omitempty"`
	PinCount int    `json:"pin_count,omitempty"`
	Sentinel bool   `json:"sentinel,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Pinned reports whether the block holds any pins.
func (b Block) Pinned() bool { return b.PinCount > 0 }

// Walk calls fn for every block in address order, including segment head
// sentinels, until fn returns false. The allocator lock is held during the
// walk, so fn must not call back into the allocator.
func (a *Allocator) Walk(fn func(Block) bool) {
	a.lock()
	defer a.unlock()

	sentinels := make(map[chunkIdx]bool, len(a.segments))
	for _, s := range a.segments[1:] {
		sentinels[s.head] = true
	}

	for idx := a.chunks[addrStart].addrNext; idx != addrEnd; idx = a.chunks[idx].addrNext {
		c := &a.chunks[idx]
		w := c.attr.load()
		b := Block{
			Offset:   a.bytes(c.addr),
			Size:     a.bytes(w.size()),
			Busy:     w.busy(),
			Moving:   w.moving(),
			PinCount: w.pinCount(),
			Sentinel: sentinels[idx],
			Source:   c.source,
		}
		if b.Busy && !b.Sentinel {
			b.Handle = handleFor(idx)
		}
		if !fn(b) {
			return
		}
	}
}

// Layout returns every block in address order, without segment sentinels.
func (a *Allocator) Layout() []Block {
	var out []Block
	a.Walk(func(b Block) bool {
		if !b.Sentinel {
			out = append(out, b)
		}
		return true
	})
	return out
}

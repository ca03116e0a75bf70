package defrag

// Pin increments the pin count of h and returns its offset in bytes. The
// offset stays valid until the matching Unpin. Pin never takes the lock
// unless h was being moved, in which case the move is cancelled first.
func (a *Allocator) Pin(h Handle) uint64 {
	idx := a.index(h)
	c := &a.chunks[idx]
	if c.attr.pin() {
		a.cancelMove(idx, true)
	}
	return a.bytes(c.addr)
}

// WeakPin returns the offset of h without pinning it. An in-flight move is
// cancelled as with Pin; the offset is only valid until the next
// DefragmentTick.
func (a *Allocator) WeakPin(h Handle) uint64 {
	idx := a.index(h)
	c := &a.chunks[idx]

	// Hold a pin just long enough to read a settled address.
	if c.attr.pin() {
		a.cancelMove(idx, true)
	}
	off := a.bytes(c.addr)
	c.attr.unpin()
	return off
}

// Unpin releases one pin taken by Pin or AllocatePinned.
func (a *Allocator) Unpin(h Handle) {
	a.chunks[a.index(h)].attr.unpin()
}

// IsPinned reports whether h currently holds any pins.
func (a *Allocator) IsPinned(h Handle) bool {
	return a.chunks[a.index(h)].attr.load().pinned()
}

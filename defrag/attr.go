package defrag

import (
	"fmt"
	"sync/atomic"
)

// Attribute word layout: size in the low 27 bits, then busy, moving and a
// 3-bit pin count.
const (
	sizeBits  = 27
	sizeMask  = 1<<sizeBits - 1
	busyBit   = 1 << 27
	movingBit = 1 << 28
	pinShift  = 29
	pinOne    = 1 << pinShift
	pinMask   = 7 << pinShift

	// MaxPinCount is the deepest a block can be pinned.
	MaxPinCount = 7

	// MaxBlockUnits is the largest block size, in units of the minimum alignment.
	MaxBlockUnits = sizeMask
)

// attrWord is a snapshot of a chunk's packed attribute word.
type attrWord uint32

func (w attrWord) size() uint32 { return uint32(w) & sizeMask }
func (w attrWord) busy() bool { return w&busyBit != 0 }
func (w attrWord) moving() bool { return w&movingBit != 0 }
func (w attrWord) pinCount() int { return int(uint32(w&pinMask) >> pinShift) }
func (w attrWord) pinned() bool { return w&pinMask != 0 }
func (w attrWord) withSize(sz uint32) attrWord {
	return w&^sizeMask | attrWord(sz&sizeMask)
}

// movable reports whether the defragmenter may pick this block up.
func (w attrWord) movable() bool {
	return w.busy() && !w.pinned() && !w.moving() && w.size() > 0
}

func (w attrWord) String() string {
	return fmt.Sprintf("size=%d busy=%t moving=%t pins=%d", w.size(), w.busy(), w.moving(), w.pinCount())
}

// attr is the atomically updated attribute word. Size and busy only change
// under the allocator lock; pin count and moving also change lock free.
type attr struct {
	v atomic.Uint32
}

func (a *attr) load() attrWord { return attrWord(a.v.Load()) }
func (a *attr) store(w attrWord) { a.v.Store(uint32(w)) }
func (a *attr) size() uint32 { return a.load().size() }
func (a *attr) cas(old, next attrWord) bool {
	return a.v.CompareAndSwap(uint32(old), uint32(next))
}

// setSize replaces the size bits, preserving the flags.
func (a *attr) setSize(sz uint32) {
	for {
		old := a.load()
		if a.cas(old, old.withSize(sz)) {
			return
		}
	}
}

// addSize grows the size field by n units.
func (a *attr) addSize(n uint32) {
	for {
		old := a.load()
		if a.cas(old, old.withSize(old.size()+n)) {
			return
		}
	}
}

// pin increments the pin count and reports whether the block was moving at
// the moment the pin took effect.
func (a *attr) pin() (wasMoving bool) {
	for {
		old := a.load()
		if !old.busy() {
			panic(fmt.Errorf("%w: pin", ErrNotBusy))
		}
		if old.pinCount() == MaxPinCount {
			panic(ErrPinOverflow)
		}
		if a.cas(old, old+pinOne) {
			return old.moving()
		}
	}
}

func (a *attr) unpin() {
	for {
		old := a.load()
		if !old.busy() {
			panic(fmt.Errorf("%w: unpin", ErrNotBusy))
		}
		if !old.pinned() {
			panic(ErrNotPinned)
		}
		if a.cas(old, old-pinOne) {
			return
		}
	}
}

func (a *attr) setPinCount(n int) {
	for {
		old := a.load()
		if a.cas(old, old&^pinMask|attrWord(uint32(n)<<pinShift)&pinMask) {
			return
		}
	}
}

// tryMarkAsMoving sets the moving flag if the block is still a valid move
// candidate.
func (a *attr) tryMarkAsMoving() bool {
	for {
		old := a.load()
		if !old.movable() {
			return false
		}
		if a.cas(old, old|movingBit) {
			return true
		}
	}
}

// markAsMoving sets the moving flag regardless of pins.
func (a *attr) markAsMoving() {
	for {
		old := a.load()
		if a.cas(old, old|movingBit) {
			return
		}
	}
}

func (a *attr) markAsNotMoving() {
	for {
		old := a.load()
		if a.cas(old, old&^movingBit) {
			return
		}
	}
}

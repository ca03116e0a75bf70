package defrag

import "sync/atomic"

// InvalidMoveID is returned by Policy.BeginCopy to reject a move.
const InvalidMoveID uint32 = 0

// Policy performs the byte copies the allocator schedules. Offsets and sizes
// are in bytes. All methods are called with the allocator lock held, so a
// Policy must not call back into the allocator.
type Policy interface {
	// BeginCopy starts an asynchronous copy of size bytes from src to dst on
	// behalf of the block identified by ctx. It returns a non-zero move id,
	// or InvalidMoveID to reject the move. Progress is reported through n.
	BeginCopy(ctx any, dst, src, size uint64, n *Notification) uint32

	// Relocate tells the policy that the block has logically moved from
	// oldOff to newOff. The policy sets SrcIsUnneeded once nothing reads
	// the old location any more.
	Relocate(moveID uint32, ctx any, newOff, oldOff, size uint64)

	// CancelCopy abandons a move. With sync set the policy must have stopped
	// writing to the destination before it returns.
	CancelCopy(moveID uint32, ctx any, sync bool)

	// SyncCopy copies size bytes from src to dst before returning. It is only
	// used while removing a segment.
	SyncCopy(ctx any, dst, src, size uint64)
}

// Notification carries the progress of one move from the policy back to the
// allocator. The flags may be set from any goroutine; the allocator reads
// them at the start of the next DefragmentTick.
type Notification struct {
	dstIsValid    atomic.Bool
	srcIsUnneeded atomic.Bool
	cancel        atomic.Bool
}

// SetDstIsValid reports that the destination holds a complete copy.
func (n *Notification) SetDstIsValid() { n.dstIsValid.Store(true) }

// SetSrcIsUnneeded reports that the source location can be released.
func (n *Notification) SetSrcIsUnneeded() { n.srcIsUnneeded.Store(true) }

// Cancel asks the allocator to abandon the move. Only valid before the
// destination has been reported valid.
func (n *Notification) Cancel() { n.cancel.Store(true) }

// DstIsValid reports whether SetDstIsValid has been called.
func (n *Notification) DstIsValid() bool { return n.dstIsValid.Load() }

// SrcIsUnneeded reports whether SetSrcIsUnneeded has been called.
func (n *Notification) SrcIsUnneeded() bool { return n.srcIsUnneeded.Load() }

// Cancelled reports whether Cancel has been called.
func (n *Notification) Cancelled() bool { return n.cancel.Load() }

package defrag

import "errors"

var (
	// ErrBadAlignment indicates a minimum alignment that is zero or not a power of two.
	ErrBadAlignment = errors.New("defrag: alignment must be a power of two")

	// ErrBadCapacity indicates a capacity that is not a multiple of the minimum
	// alignment or does not fit the 27-bit size field.
	ErrBadCapacity = errors.New("defrag: bad capacity")

	// ErrNeedMaxAllocs indicates a policy was supplied without a fixed chunk budget.
	ErrNeedMaxAllocs = errors.New("defrag: policy requires MaxAllocs > 0")

	// ErrNoChunks indicates that the fixed chunk arena has no free slots left.
	ErrNoChunks = errors.New("defrag: chunk arena exhausted")

	// ErrSegmentLimit indicates that MaxSegments segments already exist.
	ErrSegmentLimit = errors.New("defrag: segment limit reached")

	// ErrLastSegment indicates an attempt to remove the initial segment.
	ErrLastSegment = errors.New("defrag: cannot remove the initial segment")

	// ErrSegmentBusy indicates a segment still holds blocks that could not be moved out.
	ErrSegmentBusy = errors.New("defrag: segment still has live blocks")

	// ErrNoPolicy indicates an operation that needs a Policy to copy bytes.
	ErrNoPolicy = errors.New("defrag: no policy installed")

	// ErrPendingMoves indicates moves were still in flight when they were required to be done.
	ErrPendingMoves = errors.New("defrag: moves still pending")

	// ErrBadHandle indicates a handle that does not refer to a chunk slot.
	ErrBadHandle = errors.New("defrag: bad handle")

	// ErrNotBusy indicates an operation on a handle whose block is not allocated.
	ErrNotBusy = errors.New("defrag: block is not allocated")

	// ErrPinOverflow indicates that a block was pinned more than MaxPinCount times.
	ErrPinOverflow = errors.New("defrag: pin count overflow")

	// ErrNotPinned indicates an Unpin without a matching Pin.
	ErrNotPinned = errors.New("defrag: block is not pinned")

	// ErrBadSnapshot indicates a snapshot with a bad magic, truncated data or
	// inconsistent links.
	ErrBadSnapshot = errors.New("defrag: bad snapshot")
)

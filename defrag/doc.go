// Package defrag provides a defragmenting block allocator for a linear
// address range.
//
// # Overview
//
// The allocator hands out offsets into an address range it never touches
// itself (a GPU heap, a streaming pool, a memory mapped file). Callers
// allocate and free variable sized, variably aligned blocks and receive
// stable handles. Separately, and without stopping the world, the caller
// asks for incremental compaction by calling DefragmentTick, typically once
// per frame. Moves are carried out by a Policy collaborator that performs
// the byte copies asynchronously and reports progress through a
// Notification.
//
// # Handles and Pinning
//
// A Handle identifies an allocation for its whole lifetime, including after
// the allocator has relocated it. The offset of a block is only guaranteed
// stable while it is pinned:
//
//	off := a.Pin(h)
//	// ... read or write [off, off+a.UsableSize(h)) ...
//	a.Unpin(h)
//
// Pin and Unpin are lock free and may be called from any goroutine, including
// while a tick runs. Pinning a block that is being moved cancels the move.
//
// # Size Classes
//
// Free blocks are kept in 31 power-of-two buckets, indexed by
// floor(log2(size)) with sizes counted in units of the minimum alignment.
// Each bucket is address ordered, which lets the defragmenter walk free
// space front to back or back to front without touching busy blocks.
//
// # Defragmentation
//
// Each tick first finalizes moves scheduled by earlier ticks, then schedules
// new ones: a backward pass moves blocks from the end of the heap into holes
// near the front, and a forward pass moves the remaining blocks that sit in
// front of a free block toward the back. Destinations are reserved and
// pinned immediately so a tick never targets the same space twice.
//
// # Segments
//
// The address range can grow by appending segments and shrink by removing
// the most recently appended one. Removing a segment synchronously moves its
// live blocks into earlier segments through Policy.SyncCopy.
//
// # Thread Safety
//
// With a Policy installed every structural operation takes an internal mutex.
// Without one the allocator is single threaded and takes no locks; only Pin,
// Unpin and WeakPin remain safe to call concurrently.
package defrag

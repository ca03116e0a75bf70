package defrag

import (
	"fmt"
	"log/slog"
	"math/bits"
	"sync"

	"github.com/joshuapare/defragheap/internal/logger"
)

// MaxPendingMoves is the size of the in-flight move table.
const MaxPendingMoves = 64

// segment is an appended sub-range of the address space, in units.
type segment struct {
	base, capacity uint32
	head           chunkIdx
}

// Allocator is a defragmenting block allocator over a linear address range.
type Allocator struct {
	mu         sync.Mutex
	threadSafe bool

	opts   Options
	policy Policy

	// chunks is the index-stable arena; 0 and 1 are the address-list
	// sentinels, the next NumBuckets slots are the bucket roots.
	chunks []chunk
	unused []chunkIdx
	fixed  bool

	buckets [NumBuckets]chunkIdx

	// Sizes and addresses are in units of minAlign.
	capacity    uint32
	available   uint32
	numAllocs   uint32
	minAlign    uint32
	logMinAlign uint32

	segments []segment

	moves          [MaxPendingMoves]pendingMove
	cancelledMoves uint64
}

// New creates an allocator managing capacity bytes with the given minimum
// alignment. Capacity must be a multiple of minAlignment and fit in
// MaxBlockUnits units.
func New(capacity, minAlignment uint64, opts Options) (*Allocator, error) {
	if minAlignment == 0 || minAlignment&(minAlignment-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadAlignment, minAlignment)
	}
	if capacity == 0 || capacity&(minAlignment-1) != 0 || capacity/minAlignment > MaxBlockUnits {
		return nil, fmt.Errorf("%w: %d with alignment %d", ErrBadCapacity, capacity, minAlignment)
	}
	if err := opts.check(); err != nil {
		return nil, err
	}

	a := &Allocator{
		threadSafe:  opts.Policy != nil,
		opts:        opts,
		policy:      opts.Policy,
		minAlign:    uint32(minAlignment),
		logMinAlign: uint32(bits.TrailingZeros64(minAlignment)),
	}
	units := uint32(capacity >> a.logMinAlign)
	a.capacity = units
	a.available = units
	a.resetMoves()

	a.chunks = make([]chunk, reservedChunks, reservedChunks+max(opts.MaxAllocs, 1))

	start, end := &a.chunks[addrStart], &a.chunks[addrEnd]
	start.addrNext, start.addrPrev = addrEnd, addrEnd
	start.attr.store(busyBit)
	start.setBusy(nil)
	end.addrNext, end.addrPrev = addrStart, addrStart
	end.attr.store(busyBit)
	end.addr = units
	end.setBusy(nil)

	for b := range NumBuckets {
		idx := firstRoot + chunkIdx(b)
		a.chunks[idx].payload = &freeLinks{prev: idx, next: idx}
		a.buckets[b] = idx
	}

	total := a.allocateChunk()
	a.chunks[total].attr.setSize(units)
	a.linkAddrChunk(total, addrStart)
	a.linkFreeChunk(total)

	if opts.MaxAllocs > 0 {
		first := len(a.chunks)
		want := reservedChunks + opts.MaxAllocs
		for i := first; i < want; i++ {
			a.chunks = append(a.chunks, chunk{})
			a.unused = append(a.unused, chunkIdx(i))
		}
	}
	a.fixed = opts.Policy != nil

	a.segments = append(a.segments, segment{base: 0, capacity: units, head: addrStart})

	a.log().Debug("defrag allocator created",
		"capacity", capacity, "min_alignment", minAlignment,
		"max_allocs", opts.MaxAllocs, "search", opts.Search.String(), "policy", opts.Policy != nil)
	return a, nil
}

// Release finalizes the allocator. Unless discard is set, moves that have
// completed are finalized first and ErrPendingMoves is returned if any are
// still in flight. The allocator must not be used afterwards.
func (a *Allocator) Release(discard bool) error {
	a.lock()
	defer a.unlock()

	var err error
	if !discard && a.policy != nil {
		if a.completePendingMoves() {
			err = ErrPendingMoves
		}
	}

	a.chunks = nil
	a.unused = nil
	a.segments = nil
	a.capacity, a.available, a.numAllocs = 0, 0, 0
	return err
}

// MinAlignment returns the allocator's minimum alignment in bytes.
func (a *Allocator) MinAlignment() uint64 { return uint64(a.minAlign) }

// ThreadSafe reports whether structural operations take the internal lock.
func (a *Allocator) ThreadSafe() bool { return a.threadSafe }

func (a *Allocator) lock() {
	if a.threadSafe {
		a.mu.Lock()
	}
}

func (a *Allocator) unlock() {
	if a.threadSafe {
		a.mu.Unlock()
	}
}

func (a *Allocator) tryLock() bool {
	if a.threadSafe {
		return a.mu.TryLock()
	}
	return true
}

func (a *Allocator) log() *slog.Logger {
	if a.opts.Logger != nil {
		return a.opts.Logger
	}
	return logger.L
}

// bytes converts units to bytes.
func (a *Allocator) bytes(units uint32) uint64 { return uint64(units) << a.logMinAlign }

// postMutate runs the consistency walks when validation is enabled.
func (a *Allocator) postMutate() {
	if a.opts.Validate {
		a.mustValidate()
	}
}

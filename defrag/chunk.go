package defrag

import (
	"fmt"
	"math"
)

// Handle identifies an allocation. It stays valid across relocation until
// the block is freed.
type Handle uint32

// InvalidHandle is returned when an allocation fails.
const InvalidHandle Handle = 0

// chunkIdx indexes the chunk arena.
type chunkIdx uint32

const invalidIndex chunkIdx = math.MaxUint32

func handleFor(idx chunkIdx) Handle { return Handle(idx + 1) }

// payload is either *freeLinks (free chunk or bucket root) or busyPayload.
type payload interface {
	isPayload()
}

// freeLinks threads a free chunk through its size-class bucket.
type freeLinks struct {
	prev, next chunkIdx
}

// busyPayload carries the caller's opaque context for an allocated block.
type busyPayload struct {
	ctx any
}

func (*freeLinks) isPayload()  {}
func (busyPayload) isPayload() {}

// chunk is one contiguous address range record. Addresses and sizes are in
// units of the allocator's minimum alignment.
type chunk struct {
	addrPrev, addrNext chunkIdx

	addr     uint32
	logAlign uint8 // alignment class, log2 of units

	attr    attr
	payload payload
	source  string
}

func (c *chunk) end() uint32 { return c.addr + c.attr.size() }

// links returns the free list links. Calling it on a busy chunk is an
// internal invariant violation.
func (c *chunk) links() *freeLinks {
	l, ok := c.payload.(*freeLinks)
	if !ok {
		panic(fmt.Sprintf("defrag: free links requested for busy chunk at %d", c.addr))
	}
	return l
}

func (c *chunk) context() any {
	if b, ok := c.payload.(busyPayload); ok {
		return b.ctx
	}
	return nil
}

func (c *chunk) setFree() {
	c.payload = &freeLinks{prev: invalidIndex, next: invalidIndex}
}

func (c *chunk) setBusy(ctx any) {
	c.payload = busyPayload{ctx: ctx}
}

// align returns the chunk's alignment in units.
func (c *chunk) align() uint32 { return 1 << c.logAlign }

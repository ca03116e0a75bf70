package defrag

import "fmt"

// validate runs every consistency walk.
func (a *Allocator) validate() error {
	if err := a.validateAddressChain(); err != nil {
		return err
	}
	return a.validateFreeLists()
}

func (a *Allocator) mustValidate() {
	if err := a.validate(); err != nil {
		panic(err)
	}
}

// validateAddressChain checks that the address list is contiguous from 0 to
// capacity, that its links are symmetric and that the space accounting
// matches the busy flags.
func (a *Allocator) validateAddressChain() error {
	var p uint64
	var free, busy uint64
	steps := 0

	prev := addrStart
	for idx := a.chunks[addrStart].addrNext; idx != addrStart; idx = a.chunks[idx].addrNext {
		if int(idx) >= len(a.chunks) {
			return fmt.Errorf("address chain: link %d out of range", idx)
		}
		if steps++; steps > len(a.chunks) {
			return fmt.Errorf("address chain: cycle after %d chunks", steps)
		}

		c := &a.chunks[idx]
		if c.addrPrev != prev {
			return fmt.Errorf("address chain: chunk %d prev is %d, want %d", idx, c.addrPrev, prev)
		}
		if uint64(c.addr) != p {
			return fmt.Errorf("address chain: chunk %d at %d, want %d", idx, c.addr, p)
		}

		w := c.attr.load()
		p += uint64(w.size())
		if w.busy() {
			busy += uint64(w.size())
			if _, ok := c.payload.(busyPayload); !ok {
				return fmt.Errorf("address chain: busy chunk %d carries free links", idx)
			}
		} else {
			free += uint64(w.size())
			if _, ok := c.payload.(*freeLinks); !ok {
				return fmt.Errorf("address chain: free chunk %d carries a context", idx)
			}
		}
		prev = idx
	}

	if p != uint64(a.capacity) {
		return fmt.Errorf("address chain: ends at %d, capacity %d", p, a.capacity)
	}
	if free != uint64(a.available) {
		return fmt.Errorf("address chain: free space %d, available %d", free, a.available)
	}
	if busy != uint64(a.capacity-a.available) {
		return fmt.Errorf("address chain: busy space %d, in use %d", busy, a.capacity-a.available)
	}
	return nil
}

// validateFreeLists checks every bucket: members are free, belong to the
// bucket's size class, are address ordered with symmetric links, and every
// free chunk of the address list is in exactly one bucket.
func (a *Allocator) validateFreeLists() error {
	listed := 0
	for b := range NumBuckets {
		root := a.buckets[b]
		last := int64(-1)
		steps := 0
		for idx := a.chunks[root].links().next; idx != root; idx = a.chunks[idx].links().next {
			if int(idx) < reservedChunks || int(idx) >= len(a.chunks) {
				return fmt.Errorf("bucket %d: link %d out of range", b, idx)
			}
			if steps++; steps > len(a.chunks) {
				return fmt.Errorf("bucket %d: cycle", b)
			}

			c := &a.chunks[idx]
			w := c.attr.load()
			if w.busy() {
				return fmt.Errorf("bucket %d: chunk %d is busy", b, idx)
			}
			if bucketForSize(w.size()) != b {
				return fmt.Errorf("bucket %d: chunk %d of size %d", b, idx, w.size())
			}
			if int64(c.addr) <= last {
				return fmt.Errorf("bucket %d: chunk %d out of address order", b, idx)
			}
			last = int64(c.addr)

			l := c.links()
			if a.chunks[l.next].links().prev != idx || a.chunks[l.prev].links().next != idx {
				return fmt.Errorf("bucket %d: asymmetric links at chunk %d", b, idx)
			}
			listed++
		}
	}

	inChain := 0
	for idx := a.chunks[addrStart].addrNext; idx != addrEnd; idx = a.chunks[idx].addrNext {
		if !a.chunks[idx].attr.load().busy() {
			inChain++
		}
	}
	if listed != inChain {
		return fmt.Errorf("free lists hold %d chunks, address chain has %d free", listed, inChain)
	}
	return nil
}

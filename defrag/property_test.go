package defrag

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRandomOperations drives the allocator through a seeded mix of
// allocations, frees, pins and defragmentation ticks with the consistency
// walks enabled, and checks that every live block keeps its bytes.
func TestRandomOperations(t *testing.T) {
	for _, search := range []SearchKind{BestFit, FirstFit} {
		for seed := int64(1); seed <= 4; seed++ {
			t.Run(fmt.Sprintf("%v/%d", search, seed), func(t *testing.T) {
				runRandomOperations(t, search, seed)
			})
		}
	}
}

func runRandomOperations(t *testing.T, search SearchKind, seed int64) {
	const capacity = 1 << 16
	fp := newFakePolicy(capacity)
	a, err := New(capacity, 16, Options{Policy: fp, MaxAllocs: 512, Search: search, Validate: true})
	require.NoError(t, err)

	type live struct {
		h    Handle
		size uint64
		tag  byte
	}
	rng := rand.New(rand.NewSource(seed))
	var blocks []live
	pinned := map[Handle]int{}

	for step := range 2000 {
		switch op := rng.Intn(10); {
		case op < 4:
			sz := uint64(1 + rng.Intn(1024))
			align := uint64(16) << rng.Intn(4)
			h := a.AllocateAligned(sz, align, "", nil)
			if h == InvalidHandle {
				continue
			}
			off := a.Pin(h)
			require.Zero(t, off%align, "step %d", step)
			tag := byte(step)
			fp.fill(off, sz, tag)
			a.Unpin(h)
			blocks = append(blocks, live{h: h, size: sz, tag: tag})

		case op < 6 && len(blocks) > 0:
			i := rng.Intn(len(blocks))
			b := blocks[i]
			for range pinned[b.h] {
				a.Unpin(b.h)
			}
			delete(pinned, b.h)
			require.True(t, a.Free(b.h))
			blocks = append(blocks[:i], blocks[i+1:]...)

		case op < 7 && len(blocks) > 0:
			b := blocks[rng.Intn(len(blocks))]
			if pinned[b.h] > 0 {
				a.Unpin(b.h)
				pinned[b.h]--
				continue
			}
			off := a.Pin(b.h)
			fp.check(t, off, b.size, b.tag)
			pinned[b.h]++

		default:
			a.DefragmentTick(1+rng.Intn(8), uint64(rng.Intn(8192)), true)
			if rng.Intn(2) == 0 {
				fp.finishAll()
			}
		}
	}

	for i := 0; i < 3 && a.PendingMoves() > 0; i++ {
		fp.finishAll()
		a.DefragmentTick(0, 0, true)
	}
	require.Zero(t, a.PendingMoves())

	for _, b := range blocks {
		off := a.Pin(b.h)
		fp.check(t, off, b.size, b.tag)
		a.Unpin(b.h)
	}
	requireValid(t, a)
}

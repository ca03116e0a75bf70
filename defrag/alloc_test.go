package defrag

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name     string
		capacity uint64
		align    uint64
		opts     Options
		want     error
	}{
		{"zero alignment", 1024, 0, Options{}, ErrBadAlignment},
		{"odd alignment", 1024, 24, Options{}, ErrBadAlignment},
		{"unaligned capacity", 1000, 16, Options{}, ErrBadCapacity},
		{"zero capacity", 0, 16, Options{}, ErrBadCapacity},
		{"too large", (MaxBlockUnits + 1) * 16, 16, Options{}, ErrBadCapacity},
		{"policy without budget", 1024, 16, Options{Policy: newFakePolicy(1024)}, ErrNeedMaxAllocs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.capacity, tt.align, tt.opts)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAllocateReusesHoleBestFit(t *testing.T) {
	a, err := New(1024, 16, Options{Validate: true})
	require.NoError(t, err)

	ha := a.Allocate(100, "A", nil)
	require.NotEqual(t, InvalidHandle, ha)
	assert.Equal(t, uint64(0), a.Pin(ha))
	assert.Equal(t, uint64(112), a.UsableSize(ha))
	a.Unpin(ha)

	hb := a.Allocate(200, "B", nil)
	require.NotEqual(t, InvalidHandle, hb)
	assert.Equal(t, uint64(112), a.Pin(hb))
	a.Unpin(hb)

	require.True(t, a.Free(ha))

	hc := a.Allocate(50, "C", nil)
	require.NotEqual(t, InvalidHandle, hc)
	assert.Equal(t, uint64(0), a.Pin(hc), "best fit reuses the 112-byte hole")
	a.Unpin(hc)

	assert.Equal(t, "B", a.SourceOf(hb))
	assert.Equal(t, "C", a.SourceOf(hc))
}

func TestAllocateExhaustion(t *testing.T) {
	a, err := New(256, 16, Options{Validate: true})
	require.NoError(t, err)

	assert.Equal(t, InvalidHandle, a.Allocate(272, "", nil))

	h := a.Allocate(256, "", nil)
	require.NotEqual(t, InvalidHandle, h)
	assert.Equal(t, InvalidHandle, a.Allocate(1, "", nil))

	require.True(t, a.Free(h))
	assert.NotEqual(t, InvalidHandle, a.Allocate(1, "", nil))
}

func TestAllocateFailsWhenAlignmentCannotFit(t *testing.T) {
	a, err := New(1024, 16, Options{Validate: true})
	require.NoError(t, err)

	// Leave 512 bytes free at [16, 528) only.
	first := a.Allocate(16, "", nil)
	require.NotEqual(t, InvalidHandle, first)
	mid := a.Allocate(512, "", nil)
	require.NotEqual(t, InvalidHandle, a.Allocate(496, "", nil))
	require.True(t, a.Free(mid))

	assert.Equal(t, InvalidHandle, a.AllocateAligned(512, 512, "", nil))
	h := a.AllocateAligned(256, 256, "", nil)
	require.NotEqual(t, InvalidHandle, h)
	assert.Equal(t, uint64(256), a.Pin(h))
}

func TestFixedArenaExhaustion(t *testing.T) {
	a, err := New(1024, 16, Options{Policy: newFakePolicy(1024), MaxAllocs: 3, Validate: true})
	require.NoError(t, err)

	// One record holds the whole heap; each allocation splits one more off.
	h1 := a.Allocate(16, "", nil)
	h2 := a.Allocate(16, "", nil)
	require.NotEqual(t, InvalidHandle, h1)
	require.NotEqual(t, InvalidHandle, h2)
	assert.Equal(t, InvalidHandle, a.Allocate(16, "", nil), "no record left for the tail")

	// A perfect fit needs no new record.
	assert.NotEqual(t, InvalidHandle, a.Allocate(1024-32, "", nil))
}

func TestAllocateZeroSize(t *testing.T) {
	a, err := New(1024, 16, Options{Validate: true})
	require.NoError(t, err)

	h1 := a.Allocate(0, "", nil)
	h2 := a.Allocate(0, "", nil)
	require.NotEqual(t, InvalidHandle, h1)
	require.NotEqual(t, InvalidHandle, h2)
	assert.Equal(t, uint64(16), a.UsableSize(h1))
	assert.NotEqual(t, a.Pin(h1), a.Pin(h2))
}

func TestAlignmentContract(t *testing.T) {
	a, err := New(1<<20, 16, Options{Validate: true})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	var live []Handle
	for i := range 300 {
		if len(live) > 0 && rng.Intn(3) == 0 {
			j := rng.Intn(len(live))
			require.True(t, a.Free(live[j]))
			live = append(live[:j], live[j+1:]...)
			continue
		}

		sz := uint64(1 + rng.Intn(3000))
		align := uint64(1) << rng.Intn(12)
		h := a.AllocateAligned(sz, align, "", nil)
		if h == InvalidHandle {
			continue
		}
		off := a.Pin(h)
		a.Unpin(h)
		assert.Zero(t, off%max(align, 16), "step %d: offset %d for alignment %d", i, off, align)
		assert.GreaterOrEqual(t, a.UsableSize(h), sz, "step %d", i)
		live = append(live, h)
	}
}

func TestAllocateAlignedRoundsToPowerOfTwo(t *testing.T) {
	a, err := New(4096, 16, Options{Validate: true})
	require.NoError(t, err)

	require.NotEqual(t, InvalidHandle, a.Allocate(16, "", nil))
	h := a.AllocateAligned(16, 48, "", nil)
	require.NotEqual(t, InvalidHandle, h)
	assert.Equal(t, uint64(64), a.Pin(h))
}

func TestAllocatePinned(t *testing.T) {
	a, fp := newPolicyAllocator(t, 1024)
	_ = fp

	res := a.AllocatePinned(40, "pinned", "ctx")
	require.NotEqual(t, InvalidHandle, res.Handle)
	assert.Equal(t, uint64(0), res.Offset)
	assert.Equal(t, uint64(48), res.UsableSize)
	assert.True(t, a.IsPinned(res.Handle))
	assert.Equal(t, "ctx", a.Context(res.Handle))

	a.Unpin(res.Handle)
	assert.False(t, a.IsPinned(res.Handle))
}

func TestFreeInvalidHandle(t *testing.T) {
	a, err := New(1024, 16, Options{})
	require.NoError(t, err)
	assert.False(t, a.Free(InvalidHandle))
}

func TestMisusePanics(t *testing.T) {
	a, err := New(1024, 16, Options{})
	require.NoError(t, err)

	h := a.Allocate(32, "", nil)
	require.True(t, a.Free(h))

	// The chunk record was merged away and sits on the unused stack.
	assertPanicsWith(t, ErrNotBusy, func() { a.Free(h) })
	assertPanicsWith(t, ErrNotBusy, func() { a.Pin(h) })
	assertPanicsWith(t, ErrBadHandle, func() { a.Pin(Handle(1)) })
	assertPanicsWith(t, ErrBadHandle, func() { a.Pin(Handle(1 << 20)) })

	h = a.Allocate(32, "", nil)
	assertPanicsWith(t, ErrNotPinned, func() { a.Unpin(h) })
}

func assertPanicsWith(t *testing.T, want error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		assert.True(t, errors.Is(err, want), "got %v, want %v", err, want)
	}()
	fn()
}

func TestChangeContext(t *testing.T) {
	a, err := New(1024, 16, Options{})
	require.NoError(t, err)

	h := a.Allocate(32, "", "old")
	assert.Equal(t, "old", a.Context(h))
	a.ChangeContext(h, "new")
	assert.Equal(t, "new", a.Context(h))
	assert.Equal(t, uint64(32), a.UsableSize(h), "layout is untouched")
}

func TestTilingRestoresSingleFreeBlock(t *testing.T) {
	a, err := New(4096, 16, Options{Validate: true})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	var hs []Handle
	remaining := uint64(4096)
	for remaining > 0 {
		sz := min(uint64(16*(1+rng.Intn(8))), remaining)
		h := a.Allocate(sz, "", nil)
		require.NotEqual(t, InvalidHandle, h)
		hs = append(hs, h)
		remaining -= sz
	}
	st := a.Stats()
	require.Equal(t, 0, st.FreeBlocks)
	require.Equal(t, uint64(4096), st.InUseSize)

	rng.Shuffle(len(hs), func(i, j int) { hs[i], hs[j] = hs[j], hs[i] })
	for _, h := range hs {
		require.True(t, a.Free(h))
	}

	layout := a.Layout()
	require.Len(t, layout, 1)
	assert.Equal(t, Block{Offset: 0, Size: 4096}, layout[0])
	assert.Equal(t, 0, a.Stats().InUseBlocks)
}

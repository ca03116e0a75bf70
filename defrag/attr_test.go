package defrag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttrWordLayout(t *testing.T) {
	w := attrWord(100) | busyBit | movingBit | 3<<pinShift
	assert.Equal(t, uint32(100), w.size())
	assert.True(t, w.busy())
	assert.True(t, w.moving())
	assert.Equal(t, 3, w.pinCount())
	assert.True(t, w.pinned())

	w = w.withSize(MaxBlockUnits)
	assert.Equal(t, uint32(MaxBlockUnits), w.size())
	assert.Equal(t, 3, w.pinCount(), "withSize must keep the flags")
	assert.True(t, w.busy())
}

func TestAttrPinUnpin(t *testing.T) {
	var a attr
	a.store(busyBit | 8)

	for i := range MaxPinCount {
		assert.False(t, a.pin(), "pin %d", i)
	}
	assert.Equal(t, MaxPinCount, a.load().pinCount())
	assert.Equal(t, uint32(8), a.size())

	require.PanicsWithValue(t, ErrPinOverflow, func() { a.pin() })

	for range MaxPinCount {
		a.unpin()
	}
	assert.False(t, a.load().pinned())
	require.PanicsWithValue(t, ErrNotPinned, func() { a.unpin() })
}

func TestAttrPinFreeChunkPanics(t *testing.T) {
	var a attr
	a.store(8)
	assert.Panics(t, func() { a.pin() })
}

func TestAttrPinReportsMoving(t *testing.T) {
	var a attr
	a.store(busyBit | 8)
	require.True(t, a.tryMarkAsMoving())
	assert.True(t, a.pin(), "pin must observe the moving flag")
	a.markAsNotMoving()
	assert.False(t, a.load().moving())
	assert.Equal(t, 1, a.load().pinCount())
}

func TestAttrTryMarkAsMoving(t *testing.T) {
	tests := []struct {
		name string
		w    attrWord
		want bool
	}{
		{"busy unpinned", busyBit | 4, true},
		{"free", 4, false},
		{"pinned", busyBit | pinOne | 4, false},
		{"already moving", busyBit | movingBit | 4, false},
		{"zero sized", busyBit, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a attr
			a.store(tt.w)
			assert.Equal(t, tt.want, a.tryMarkAsMoving())
			if tt.want {
				assert.True(t, a.load().moving())
			}
		})
	}
}

func TestAttrSizeUpdatesKeepFlags(t *testing.T) {
	var a attr
	a.store(busyBit | pinOne | 10)
	a.addSize(5)
	assert.Equal(t, uint32(15), a.size())
	a.setSize(2)
	assert.Equal(t, uint32(2), a.size())
	assert.Equal(t, 1, a.load().pinCount())

	a.setPinCount(0)
	assert.False(t, a.load().pinned())
	assert.True(t, a.load().busy())
}

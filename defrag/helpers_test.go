package defrag

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeMove is one copy requested from fakePolicy.
type fakeMove struct {
	id             uint32
	ctx            any
	dst, src, size uint64
	note           *Notification
	done           bool
}

type cancelCall struct {
	id   uint32
	sync bool
}

type relocation struct {
	id             uint32
	newOff, oldOff uint64
	size           uint64
}

// fakePolicy is a scripted Policy over a byte slice. Copies only happen when
// the test calls finish or finishAll.
type fakePolicy struct {
	mu  sync.Mutex
	mem []byte

	nextID  uint32
	moves   map[uint32]*fakeMove
	reject  bool
	release bool // Relocate marks the source unneeded

	began       int
	cancels     []cancelCall
	relocations []relocation
	syncCopies  int
}

func newFakePolicy(capacity uint64) *fakePolicy {
	return &fakePolicy{
		mem:     make([]byte, capacity),
		moves:   make(map[uint32]*fakeMove),
		release: true,
	}
}

func (p *fakePolicy) BeginCopy(ctx any, dst, src, size uint64, n *Notification) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject {
		return InvalidMoveID
	}
	p.nextID++
	p.moves[p.nextID] = &fakeMove{id: p.nextID, ctx: ctx, dst: dst, src: src, size: size, note: n}
	p.began++
	return p.nextID
}

func (p *fakePolicy) Relocate(moveID uint32, ctx any, newOff, oldOff, size uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.relocations = append(p.relocations, relocation{id: moveID, newOff: newOff, oldOff: oldOff, size: size})
	if m, ok := p.moves[moveID]; ok && p.release {
		m.note.SetSrcIsUnneeded()
		delete(p.moves, moveID)
	}
}

func (p *fakePolicy) CancelCopy(moveID uint32, ctx any, sync bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels = append(p.cancels, cancelCall{id: moveID, sync: sync})
	if m, ok := p.moves[moveID]; ok {
		if sync {
			delete(p.moves, moveID)
			return
		}
		// Let the copy land and release both sides so the slot drains.
		p.copyLocked(m)
		m.note.SetSrcIsUnneeded()
		delete(p.moves, moveID)
	}
}

func (p *fakePolicy) SyncCopy(ctx any, dst, src, size uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	copy(p.mem[dst:dst+size], p.mem[src:src+size])
	p.syncCopies++
}

func (p *fakePolicy) copyLocked(m *fakeMove) {
	if m.done {
		return
	}
	copy(p.mem[m.dst:m.dst+m.size], p.mem[m.src:m.src+m.size])
	m.done = true
	m.note.SetDstIsValid()
}

// finishAll completes every outstanding copy.
func (p *fakePolicy) finishAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.moves {
		p.copyLocked(m)
	}
}

func (p *fakePolicy) outstanding() []*fakeMove {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*fakeMove, 0, len(p.moves))
	for _, m := range p.moves {
		out = append(out, m)
	}
	return out
}

// only returns the single outstanding move.
func (p *fakePolicy) only(t *testing.T) *fakeMove {
	t.Helper()
	ms := p.outstanding()
	require.Len(t, ms, 1)
	return ms[0]
}

// fill writes a pattern derived from tag into the block's bytes.
func (p *fakePolicy) fill(off, size uint64, tag byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := off; i < off+size; i++ {
		p.mem[i] = tag ^ byte(i-off)
	}
}

func (p *fakePolicy) check(t *testing.T, off, size uint64, tag byte) {
	t.Helper()
	if i, ok := p.matches(off, size, tag); !ok {
		t.Fatalf("byte %d of block tagged %d does not match", i, tag)
	}
}

// matches reports whether the block still holds the pattern for tag, and
// the first mismatching byte if not.
func (p *fakePolicy) matches(off, size uint64, tag byte) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := off; i < off+size; i++ {
		if p.mem[i] != tag^byte(i-off) {
			return i - off, false
		}
	}
	return 0, true
}

// newPolicyAllocator returns a validating allocator driven by a fake policy.
func newPolicyAllocator(t *testing.T, capacity uint64) (*Allocator, *fakePolicy) {
	t.Helper()
	fp := newFakePolicy(capacity * 2)
	a, err := New(capacity, 16, Options{Policy: fp, MaxAllocs: 256, Validate: true})
	require.NoError(t, err)
	return a, fp
}

// backHole builds a heap of 256-byte blocks with a hole at the front and
// free space at the back. The block just before the tail is the one the
// backward pass moves into the front hole.
func backHole(t *testing.T) (*Allocator, *fakePolicy, []Handle) {
	t.Helper()
	a, fp := newPolicyAllocator(t, 4096)
	hs := make([]Handle, 15)
	for i := range hs {
		hs[i] = a.Allocate(256, "block", i)
		require.NotEqual(t, InvalidHandle, hs[i])
		off := a.Pin(hs[i])
		fp.fill(off, 256, byte(i))
		a.Unpin(hs[i])
	}
	require.True(t, a.Free(hs[0]))
	return a, fp, hs
}

// requireValid runs the consistency walks under the lock.
func requireValid(t *testing.T, a *Allocator) {
	t.Helper()
	a.lock()
	defer a.unlock()
	require.NoError(t, a.validate())
}

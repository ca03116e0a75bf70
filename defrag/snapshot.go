package defrag

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joshuapare/defragheap/internal/buf"
	"github.com/joshuapare/defragheap/internal/mmfile"
)

// Snapshot magic. Reading it byte swapped means the file was written with the
// opposite byte order.
const snapshotMagic uint32 = 0xdef7a6e7

// Fixed record sizes, excluding the variable source label of a chunk.
const (
	chunkRecordMin  = 7*4 + 2
	moveRecordSize  = 3*4 + 8
	segmentRecord   = 3 * 4
	maxSourceLength = 1<<16 - 1
)

// DumpState writes a debug snapshot of the allocator to path. Block contexts
// are process local and are not saved.
func (a *Allocator) DumpState(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dump state: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := a.WriteState(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("dump state: %w", err)
	}
	if err := mmfile.SyncFile(f); err != nil {
		f.Close()
		return fmt.Errorf("dump state: sync: %w", err)
	}
	return f.Close()
}

// WriteState encodes a snapshot to w.
func (a *Allocator) WriteState(w io.Writer) error {
	a.lock()
	defer a.unlock()

	e := buf.NewWriter(w)
	e.U32(snapshotMagic)
	e.U32(a.capacity)
	e.U32(a.available)
	e.U32(a.numAllocs)
	e.U32(a.minAlign)
	e.U32(a.logMinAlign)
	for _, root := range a.buckets {
		e.U32(uint32(root))
	}

	e.U32(uint32(len(a.chunks)))
	for i := range a.chunks {
		c := &a.chunks[i]
		freePrev, freeNext := invalidIndex, invalidIndex
		if l, ok := c.payload.(*freeLinks); ok {
			freePrev, freeNext = l.prev, l.next
		}
		e.U32(uint32(c.addrPrev))
		e.U32(uint32(c.addrNext))
		e.U32(c.addr)
		e.U32(uint32(c.logAlign))
		e.U32(uint32(c.attr.load()))
		e.U32(uint32(freePrev))
		e.U32(uint32(freeNext))
		src := c.source
		if len(src) > maxSourceLength {
			src = src[:maxSourceLength]
		}
		e.U16(uint16(len(src)))
		e.Bytes([]byte(src))
	}

	e.U32(uint32(len(a.unused)))
	for _, idx := range a.unused {
		e.U32(uint32(idx))
	}

	e.U32(uint32(MaxPendingMoves - a.freePendingSlots()))
	for i := range a.moves {
		pm := &a.moves[i]
		if !pm.live() {
			continue
		}
		e.U32(uint32(pm.src))
		e.U32(uint32(pm.dst))
		e.U32(pm.moveID)
		e.Bool(pm.note.DstIsValid())
		e.Bool(pm.note.SrcIsUnneeded())
		e.Bool(pm.note.Cancelled())
		e.Bool(pm.relocated)
		e.Bool(pm.cancelled)
		e.Pad(3)
	}

	e.U32(uint32(len(a.segments)))
	for _, s := range a.segments {
		e.U32(s.base)
		e.U32(s.capacity)
		e.U32(uint32(s.head))
	}
	e.U64(a.cancelledMoves)

	if err := e.Err(); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// RestoreState replaces the allocator state with the snapshot at path. The
// allocator's options, including its policy, are kept. It must not run
// concurrently with any other call, including Pin.
func (a *Allocator) RestoreState(path string) error {
	data, cleanup, err := mmfile.Map(path)
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	defer cleanup()

	a.lock()
	defer a.unlock()
	return a.decodeState(data)
}

// ReadState replaces the allocator state with a snapshot read from r.
func (a *Allocator) ReadState(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}

	a.lock()
	defer a.unlock()
	return a.decodeState(data)
}

// LoadState builds an allocator from the snapshot at path. Capacity and
// alignment come from the snapshot; opts supplies everything else.
func LoadState(path string, opts Options) (*Allocator, error) {
	if opts.Policy != nil && opts.MaxAllocs <= 0 {
		opts.MaxAllocs = 1
	}
	if err := opts.check(); err != nil {
		return nil, err
	}

	a := &Allocator{
		threadSafe: opts.Policy != nil,
		opts:       opts,
		policy:     opts.Policy,
		fixed:      opts.Policy != nil,
	}
	a.resetMoves()
	if err := a.RestoreState(path); err != nil {
		return nil, err
	}
	return a, nil
}

func badSnapshot(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadSnapshot, fmt.Sprintf(format, args...))
}

// decodeState parses a snapshot and swaps it in only once it has been
// checked.
func (a *Allocator) decodeState(data []byte) error {
	if len(data) < 4 {
		return badSnapshot("empty file")
	}
	var order binary.ByteOrder = binary.LittleEndian
	switch magic := buf.U32LE(data); magic {
	case snapshotMagic:
	case buf.Swap32(snapshotMagic):
		order = binary.BigEndian
	default:
		return badSnapshot("magic %#x", magic)
	}
	r := buf.NewReader(data, order)
	r.Skip(4)

	n := &Allocator{
		threadSafe: a.threadSafe,
		opts:       a.opts,
		policy:     a.policy,
		fixed:      a.fixed,
	}

	n.capacity = r.U32()
	n.available = r.U32()
	n.numAllocs = r.U32()
	n.minAlign = r.U32()
	n.logMinAlign = r.U32()
	for b := range n.buckets {
		n.buckets[b] = chunkIdx(r.U32())
	}
	if r.Err() != nil {
		return badSnapshot("truncated header")
	}
	if n.minAlign == 0 || n.minAlign != 1<<n.logMinAlign {
		return badSnapshot("alignment %d with log %d", n.minAlign, n.logMinAlign)
	}
	for b, root := range n.buckets {
		if root != firstRoot+chunkIdx(b) {
			return badSnapshot("bucket %d rooted at %d", b, root)
		}
	}

	numChunks := int(r.U32())
	if _, err := buf.CheckListBounds(len(data), r.Offset(), numChunks, chunkRecordMin); err != nil {
		return badSnapshot("chunks: %v", err)
	}
	if numChunks < reservedChunks {
		return badSnapshot("%d chunks", numChunks)
	}
	n.chunks = make([]chunk, numChunks)
	for i := range n.chunks {
		c := &n.chunks[i]
		c.addrPrev = chunkIdx(r.U32())
		c.addrNext = chunkIdx(r.U32())
		c.addr = r.U32()
		logAlign := r.U32()
		c.attr.store(attrWord(r.U32()))
		r.Skip(8) // free links are rebuilt from the busy flags
		c.source = string(r.Bytes(int(r.U16())))
		if logAlign > 31 {
			return badSnapshot("chunk %d alignment class %d", i, logAlign)
		}
		c.logAlign = uint8(logAlign)
		if c.attr.load().busy() {
			c.setBusy(nil)
		} else {
			c.setFree()
		}
		if int(c.addrPrev) >= numChunks && c.addrPrev != invalidIndex ||
			int(c.addrNext) >= numChunks && c.addrNext != invalidIndex {
			return badSnapshot("chunk %d links out of range", i)
		}
	}
	if r.Err() != nil {
		return badSnapshot("truncated chunk table")
	}

	numUnused := int(r.U32())
	if _, err := buf.CheckListBounds(len(data), r.Offset(), numUnused, 4); err != nil {
		return badSnapshot("unused chunks: %v", err)
	}
	n.unused = make([]chunkIdx, numUnused)
	for i := range n.unused {
		idx := chunkIdx(r.U32())
		if !restorable(idx, numChunks) {
			return badSnapshot("unused chunk %d out of range", idx)
		}
		n.unused[i] = idx
	}

	n.resetMoves()
	numMoves := int(r.U32())
	if numMoves > MaxPendingMoves {
		return badSnapshot("%d pending moves", numMoves)
	}
	if _, err := buf.CheckListBounds(len(data), r.Offset(), numMoves, moveRecordSize); err != nil {
		return badSnapshot("pending moves: %v", err)
	}
	for i := range numMoves {
		pm := &n.moves[i]
		pm.src = chunkIdx(r.U32())
		pm.dst = chunkIdx(r.U32())
		pm.moveID = r.U32()
		pm.note = &Notification{}
		if r.Bool() {
			pm.note.SetDstIsValid()
		}
		if r.Bool() {
			pm.note.SetSrcIsUnneeded()
		}
		if r.Bool() {
			pm.note.Cancel()
		}
		pm.relocated = r.Bool()
		pm.cancelled = r.Bool()
		r.Skip(3)
		if !restorable(pm.dst, numChunks) || pm.src != invalidIndex && !restorable(pm.src, numChunks) {
			return badSnapshot("pending move %d out of range", i)
		}
	}

	numSegments := int(r.U32())
	if _, err := buf.CheckListBounds(len(data), r.Offset(), numSegments, segmentRecord); err != nil {
		return badSnapshot("segments: %v", err)
	}
	if numSegments < 1 {
		return badSnapshot("no segments")
	}
	n.segments = make([]segment, numSegments)
	for i := range n.segments {
		s := &n.segments[i]
		s.base = r.U32()
		s.capacity = r.U32()
		s.head = chunkIdx(r.U32())
		if int(s.head) >= numChunks {
			return badSnapshot("segment %d head out of range", i)
		}
	}
	n.cancelledMoves = r.U64()
	if r.Err() != nil {
		return badSnapshot("truncated: %v", r.Err())
	}

	if err := n.checkRestoredChain(); err != nil {
		return err
	}
	if err := n.rebuildFreeLists(); err != nil {
		return err
	}
	if err := n.validate(); err != nil {
		return badSnapshot("%v", err)
	}
	for i := range numMoves {
		pm := &n.moves[i]
		if dw := n.chunks[pm.dst].attr.load(); !dw.busy() || !dw.pinned() {
			return badSnapshot("pending move %d destination is not reserved", i)
		}
		if pm.src != invalidIndex && !n.chunks[pm.src].attr.load().moving() {
			return badSnapshot("pending move %d source is not moving", i)
		}
	}

	a.capacity, a.available, a.numAllocs = n.capacity, n.available, n.numAllocs
	a.minAlign, a.logMinAlign = n.minAlign, n.logMinAlign
	a.buckets = n.buckets
	a.chunks = n.chunks
	a.unused = n.unused
	a.moves = n.moves
	a.segments = n.segments
	a.cancelledMoves = n.cancelledMoves
	a.log().Debug("defrag state restored", "chunks", numChunks,
		"segments", numSegments, "pending_moves", numMoves)
	return nil
}

// checkRestoredChain makes sure the decoded address list runs from AddrStart
// to AddrEnd through allocatable chunks only, each once, none of them also
// listed as unused.
func (a *Allocator) checkRestoredChain() error {
	seen := make([]bool, len(a.chunks))
	for _, idx := range a.unused {
		if seen[idx] {
			return badSnapshot("unused chunk %d listed twice", idx)
		}
		seen[idx] = true
	}

	prev := addrStart
	for idx := a.chunks[addrStart].addrNext; idx != addrEnd; idx = a.chunks[idx].addrNext {
		switch {
		case idx == invalidIndex || int(idx) >= len(a.chunks):
			return badSnapshot("address list broken after chunk %d", prev)
		case int(idx) < reservedChunks:
			return badSnapshot("address list passes through reserved chunk %d", idx)
		case seen[idx]:
			return badSnapshot("address list reaches chunk %d twice or through the unused stack", idx)
		}
		seen[idx] = true
		prev = idx
	}
	return nil
}

// rebuildFreeLists relinks every free chunk of the address list into its
// bucket. The chain must already have passed checkRestoredChain.
func (a *Allocator) rebuildFreeLists() error {
	for b := range NumBuckets {
		root := a.buckets[b]
		a.chunks[root].payload = &freeLinks{prev: root, next: root}
		a.chunks[root].attr.store(0)
	}

	for idx := a.chunks[addrStart].addrNext; idx != addrEnd; idx = a.chunks[idx].addrNext {
		if a.chunks[idx].attr.load().busy() {
			continue
		}
		if !a.insertFree(idx) {
			return badSnapshot("free list of chunk %d is cyclic", idx)
		}
	}
	return nil
}

// restorable reports whether idx names an allocatable chunk of the table.
func restorable(idx chunkIdx, numChunks int) bool {
	return int(idx) >= reservedChunks && int(idx) < numChunks
}

// IsBadSnapshot reports whether err came from decoding a malformed snapshot.
func IsBadSnapshot(err error) bool { return errors.Is(err, ErrBadSnapshot) }

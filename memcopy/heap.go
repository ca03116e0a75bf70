// Package memcopy provides a defrag.Policy backed by an anonymous memory
// mapping. Copies run on a small pool of worker goroutines and report back
// through the move's defrag.Notification.
package memcopy

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/defragheap/defrag"
	"github.com/joshuapare/defragheap/internal/logger"
	"github.com/joshuapare/defragheap/internal/mmfile"
)

// ErrClosed is returned by operations on a closed Heap.
var ErrClosed = errors.New("memcopy: heap closed")

const (
	defaultWorkers    = 2
	defaultQueueDepth = defrag.MaxPendingMoves
)

// Options configures a Heap.
type Options struct {
	// Workers is the number of copy goroutines (default 2).
	Workers int

	// QueueDepth bounds the copies waiting for a worker. BeginCopy rejects
	// moves while the queue is full (default defrag.MaxPendingMoves).
	QueueDepth int

	// OnRelocate is called when a block has logically moved, with the
	// allocator lock held. It must not call back into the allocator.
	OnRelocate func(ctx any, newOff, oldOff, size uint64)
}

// Counters reports copy activity since the heap was created.
type Counters struct {
	Started   uint64 `json:"started"`
	Completed uint64 `json:"completed"`
	Rejected  uint64 `json:"rejected"`
	Cancelled uint64 `json:"cancelled"`
	Relocated uint64 `json:"relocated"`
	SyncBytes uint64 `json:"sync_bytes"`
}

type job struct {
	id             uint32
	dst, src, size uint64
	note           *defrag.Notification

	cancelled atomic.Bool
	done      chan struct{}
}

// Heap is a flat byte region plus the copy machinery the allocator drives.
// Callers may read and write a block's bytes only while it is pinned.
type Heap struct {
	mem   []byte
	unmap func() error
	opts  Options

	queue chan *job
	wg    sync.WaitGroup

	mu     sync.Mutex
	nextID uint32
	moves  map[uint32]*job
	closed bool

	started, completed, rejected atomic.Uint64
	cancelled, relocated         atomic.Uint64
	syncBytes                    atomic.Uint64
}

var _ defrag.Policy = (*Heap)(nil)

// New maps size bytes of zeroed memory and starts the copy workers.
func New(size int, opts Options) (*Heap, error) {
	if size <= 0 {
		return nil, fmt.Errorf("memcopy: bad heap size %d", size)
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = defaultQueueDepth
	}

	mem, unmap, err := mmfile.Anon(size)
	if err != nil {
		return nil, fmt.Errorf("memcopy: %w", err)
	}

	h := &Heap{
		mem:   mem,
		unmap: unmap,
		opts:  opts,
		queue: make(chan *job, opts.QueueDepth),
		moves: make(map[uint32]*job),
	}
	for range opts.Workers {
		h.wg.Add(1)
		go h.worker()
	}
	logger.Debug("memcopy heap mapped", "size", size, "workers", opts.Workers, "queue", opts.QueueDepth)
	return h, nil
}

func (h *Heap) worker() {
	defer h.wg.Done()
	for j := range h.queue {
		if !j.cancelled.Load() {
			copy(h.mem[j.dst:j.dst+j.size], h.mem[j.src:j.src+j.size])
			h.completed.Add(1)
			j.note.SetDstIsValid()
		}
		close(j.done)
	}
}

// Size returns the heap size in bytes.
func (h *Heap) Size() int { return len(h.mem) }

// Bytes returns the n bytes at off. The slice aliases the heap and is only
// meaningful while the block covering it is pinned.
func (h *Heap) Bytes(off, n uint64) []byte {
	return h.mem[off : off+n : off+n]
}

// Counters returns a snapshot of the activity counters.
func (h *Heap) Counters() Counters {
	return Counters{
		Started:   h.started.Load(),
		Completed: h.completed.Load(),
		Rejected:  h.rejected.Load(),
		Cancelled: h.cancelled.Load(),
		Relocated: h.relocated.Load(),
		SyncBytes: h.syncBytes.Load(),
	}
}

// InFlight returns the number of moves the heap still tracks.
func (h *Heap) InFlight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.moves)
}

// BeginCopy implements defrag.Policy.
func (h *Heap) BeginCopy(ctx any, dst, src, size uint64, n *defrag.Notification) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		h.rejected.Add(1)
		return defrag.InvalidMoveID
	}

	h.nextID++
	if h.nextID == defrag.InvalidMoveID {
		h.nextID++
	}
	j := &job{id: h.nextID, dst: dst, src: src, size: size, note: n, done: make(chan struct{})}

	select {
	case h.queue <- j:
	default:
		h.rejected.Add(1)
		return defrag.InvalidMoveID
	}
	h.moves[j.id] = j
	h.started.Add(1)
	return j.id
}

// Relocate implements defrag.Policy. The old location is released at once.
func (h *Heap) Relocate(moveID uint32, ctx any, newOff, oldOff, size uint64) {
	h.mu.Lock()
	j := h.moves[moveID]
	delete(h.moves, moveID)
	h.mu.Unlock()

	h.relocated.Add(1)
	if h.opts.OnRelocate != nil {
		h.opts.OnRelocate(ctx, newOff, oldOff, size)
	}
	if j != nil {
		j.note.SetSrcIsUnneeded()
	}
}

// CancelCopy implements defrag.Policy. A synchronous cancel returns once no
// worker can touch the destination; an asynchronous one releases both sides as
// soon as the worker is done with the job.
func (h *Heap) CancelCopy(moveID uint32, ctx any, sync bool) {
	h.mu.Lock()
	j := h.moves[moveID]
	delete(h.moves, moveID)
	h.mu.Unlock()

	if j == nil {
		return
	}
	h.cancelled.Add(1)
	j.cancelled.Store(true)

	if sync {
		<-j.done
		return
	}
	go func() {
		<-j.done
		j.note.SetDstIsValid()
		j.note.SetSrcIsUnneeded()
	}()
}

// SyncCopy implements defrag.Policy.
func (h *Heap) SyncCopy(ctx any, dst, src, size uint64) {
	copy(h.mem[dst:dst+size], h.mem[src:src+size])
	h.syncBytes.Add(size)
}

// Close stops the workers and unmaps the heap. Queued copies that have not
// started are skipped. The allocator using the heap must be released first.
func (h *Heap) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.closed = true
	for _, j := range h.moves {
		j.cancelled.Store(true)
	}
	h.moves = nil
	close(h.queue)
	h.mu.Unlock()

	h.wg.Wait()
	return h.unmap()
}

package conn

import (
	"container/heap"
	"sync"

	"github.com/nvaistore/partransport/sendsep"
	"github.com/nvaistore/partransport/wire"
)

// sendItem is one object mid-parcelization, held in the input processor's
// priority heap (spec.md §4.6: "peeks head of per-connection input queue,
// priority-ordered by SendPriority"). It mirrors corepump.Queue's entry
// heap, generalized from "one heap entry per parcel" to "one heap entry
// per object still being separated into parcels", so that a low-priority
// object never head-of-line-blocks a higher-priority one queued after it.
type sendItem struct {
	objectID int64
	priority wire.Priority
	seq      uint64
	index    int

	sep     *sendsep.ObjectSendSeparation // nil until first popped
	pending pendingSend
}

type sendItemHeap []*sendItem

func (h sendItemHeap) Len() int { return len(h) }
func (h sendItemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h sendItemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *sendItemHeap) Push(x any) {
	it := x.(*sendItem)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *sendItemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// inputQueue is the per-connection priority-ordered input queue (spec.md
// §4.6). Unlike a FIFO channel, popHead/requeue lets the input processor
// pull exactly one parcel from the highest-priority object and reconsider
// the queue, so a higher-priority object queued later takes over after the
// current parcel. Objects of equal priority are parcelized one after
// another in submission order, not interleaved.
type inputQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	h       sendItemHeap
	nextSeq uint64
	cap     int
	closed  bool
}

func newInputQueue(capacity int) *inputQueue {
	q := &inputQueue{cap: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a new object for parcelization; fails with ErrListOverflow
// once capacity is reached (spec.md §5: "sendObject fails with ListOverflow
// when the input-queue size >= objectQueueCapacity").
func (q *inputQueue) Push(ps pendingSend) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errNotConnected
	}
	if q.cap > 0 && len(q.h) >= q.cap {
		return ErrListOverflow
	}
	heap.Push(&q.h, &sendItem{objectID: ps.objectID, priority: ps.priority, seq: q.nextSeq, pending: ps})
	q.nextSeq++
	q.cond.Signal()
	return nil
}

// popHead blocks until the highest-priority item is available, removing it
// from the heap; the caller pulls one parcel from it then calls requeue (if
// more remain) or lets it drop. Returns (nil, false) once the queue is both
// closed and empty.
func (q *inputQueue) popHead() (*sendItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.h) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.h) == 0 {
		return nil, false
	}
	return heap.Pop(&q.h).(*sendItem), true
}

// requeue reinserts an item still producing parcels, preserving its
// insertion sequence so it stays ahead of objects of equal priority queued
// after it.
func (q *inputQueue) requeue(it *sendItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, it)
	q.cond.Signal()
}

// Close unblocks any popHead waiter permanently (once drained); further
// Push calls fail with errNotConnected.
func (q *inputQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Package corepump implements spec.md §4.5's core send pump: a
// priority-ordered queue plus a single writer goroutine that drains it.
// conn.Engine creates one queue and one writer per connection; they are not
// shared between connections. It is grounded in transport/collect.go's collector
// (container/heap-based scheduling, a control channel, a stop channel) and
// transport/sendmsg.go's MsgStream (a single per-stream send loop pulling
// off a work channel), generalized from "one heap entry per stream" to "one
// heap entry per pending parcel, ordered by priority then arrival".
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package corepump

import (
	"container/heap"
	"sync"

	"github.com/nvaistore/partransport/wire"
)

// entry is one heap slot: a parcel plus its insertion sequence, so that
// parcels of equal priority drain in FIFO order (spec.md §4.5: "within a
// priority, parcels are written in the order they were queued").
type entry struct {
	p     *wire.Parcel
	seq   uint64
	index int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].p.Priority != h[j].p.Priority {
		return h[i].p.Priority > h[j].p.Priority
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue is the priority-ordered queue feeding one writer goroutine (spec.md
// §4.5: "a single shared send queue, ordered by priority"). It orders by
// priority and arrival only; the parcel's channel plays no part. It is safe
// for concurrent Push from any number of producers.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	h       entryHeap
	nextSeq uint64
	closed  bool
}

func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a parcel for transmission, per its priority.
func (q *Queue) Push(p *wire.Parcel) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	heap.Push(&q.h, &entry{p: p, seq: q.nextSeq})
	q.nextSeq++
	q.cond.Signal()
}

// Pop blocks until a parcel is available or the queue is closed, in which
// case it returns (nil, false).
func (q *Queue) Pop() (*wire.Parcel, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.h) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.h) == 0 {
		return nil, false
	}
	e := heap.Pop(&q.h).(*entry)
	return e.p, true
}

// Len reports the number of parcels currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// Close unblocks any Pop waiters permanently; further Push calls are no-ops.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

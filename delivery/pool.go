// Package delivery implements spec.md §4.11's OutputProcessor: a priority-
// ordered queue of DeliveryObjects drained by one goroutine, with
// blocking-detection fallback that migrates a connection from the shared
// global pool onto its own individual pool. It is grounded in the same
// container/heap scheduling shape as corepump.Queue (itself grounded in
// transport/collect.go's collector), reused here for delivery ordering
// instead of send ordering, plus transport/collect.go's per-entity
// migration pattern (gc.update/heap.Fix) generalized to "move this
// connection's future deliveries onto a new pool".
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package delivery

import (
	"container/heap"
	"sync"
	"time"

	"github.com/nvaistore/partransport/ptlog"
	"github.com/nvaistore/partransport/ptstats"
	"github.com/nvaistore/partransport/wire"
)

// Item is one DeliveryObject: an opaque payload plus the priority and
// per-pool sequence number used for ordering (spec.md §4.11: "Ordering:
// higher SendPriority first; ties broken by monotonic per-pool delivery
// sequence number").
type Item struct {
	ConnID   string
	Priority wire.Priority
	Deliver  func() // invoked on the pool's goroutine; must not panic uncaught

	seq   uint64
	index int
}

type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *itemHeap) Push(x any) {
	it := x.(*Item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Pool is one delivery thread draining a priority-ordered queue. Shared
// mode uses one process-wide Pool per role; individual mode constructs one
// Pool per connection (spec.md §4.11).
type Pool struct {
	DeliverTolerance time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	h       itemHeap
	nextSeq uint64
	closed  bool

	blocking bool
}

func NewPool(deliverTolerance time.Duration) *Pool {
	p := &Pool{DeliverTolerance: deliverTolerance}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Enqueue adds a delivery item. Returns false if the pool has been closed.
func (p *Pool) Enqueue(it *Item) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	it.seq = p.nextSeq
	p.nextSeq++
	heap.Push(&p.h, it)
	p.cond.Signal()
	return true
}

// Blocking reports whether the most recent delivery exceeded
// DeliverTolerance (spec.md §4.11: "the pool is declared blocking").
func (p *Pool) Blocking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocking
}

// Run drains the queue, delivering items one at a time in priority order
// (spec.md §4.11: "drained by one thread ... Listeners are invoked
// sequentially"). It returns once Close is called and the queue is empty.
func (p *Pool) Run() {
	for {
		it, ok := p.take()
		if !ok {
			return
		}
		start := time.Now()
		safeDeliver(it)
		elapsed := time.Since(start)

		p.mu.Lock()
		wasBlocking := p.blocking
		p.blocking = elapsed > p.DeliverTolerance
		p.mu.Unlock()
		if p.blocking && !wasBlocking {
			ptlog.Warningf("delivery: pool exceeded deliverTolerance (%s > %s), marked blocking", elapsed, p.DeliverTolerance)
			ptstats.DeliveryBlocking.Set(1)
		} else if !p.blocking && wasBlocking {
			ptstats.DeliveryBlocking.Set(0)
		}
	}
}

func (p *Pool) take() (*Item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.h) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.h) == 0 {
		return nil, false
	}
	return heap.Pop(&p.h).(*Item), true
}

func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
}

func safeDeliver(it *Item) {
	defer func() {
		if r := recover(); r != nil {
			ptlog.Errorf("delivery: listener panicked delivering to %s: %v", it.ConnID, r)
		}
	}()
	it.Deliver()
}

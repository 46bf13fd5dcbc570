// Package housekeep provides a single shared goroutine on which the engine's
// timed tasks register and unregister themselves: alive-send, alive-receive
// control, idle-check, abort-file-timeout, and shutdown-timeout (spec.md
// §4.12). End-of-shutdown runs from a parcel's OnSent callback and the
// server's socket-shutdown-task uses its own time.AfterFunc; neither runs
// here. The design — a name-keyed min-heap
// ordered by next-due time, serviced by one goroutine woken on a control
// channel or the next deadline — mirrors the teacher's stream collector
// (transport/collect.go: `collector`, a container/heap of streamBase ordered
// by `time.ticks`), generalized from "one heap entry per stream" to "one
// heap entry per named task".
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package housekeep

import (
	"container/heap"
	"sync"
	"time"

	"github.com/nvaistore/partransport/ptlog"
)

// Func runs one tick of a registered task and returns the delay until its
// next run. Returning <=0 unregisters the task (one-shot semantics).
type Func func() time.Duration

type task struct {
	name    string
	f       Func
	due     time.Time
	index   int
	oneShot bool
}

type taskHeap []*task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Registry is one shared scheduler thread. conn.NewEngine takes whichever
// Registry its caller passes; the package-level Default is one process-wide
// instance a caller may use, and tests may construct independent registries.
type Registry struct {
	mu      sync.Mutex
	byName  map[string]*task
	heap    taskHeap
	wake    chan struct{}
	stopCh  chan struct{}
	started chan struct{}
	once    sync.Once
}

func New() *Registry {
	return &Registry{
		byName:  make(map[string]*task, 32),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		started: make(chan struct{}),
	}
}

// Default is the process-wide registry, analogous to hk.DefaultHK.
var Default = New()

// Run drives the scheduler loop; call it once from a background goroutine.
func (r *Registry) Run() {
	r.once.Do(func() { close(r.started) })
	for {
		d := r.nextWait()
		var timer *time.Timer
		var timerC <-chan time.Time
		if d >= 0 {
			timer = time.NewTimer(d)
			timerC = timer.C
		}
		select {
		case <-r.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-r.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
		}
		r.runDue()
	}
}

// WaitStarted blocks until Run has begun servicing the heap; used by tests.
func (r *Registry) WaitStarted() { <-r.started }

func (r *Registry) Stop() { close(r.stopCh) }

// Reg installs (or replaces) a named periodic task; first due after `initial`.
func (r *Registry) Reg(name string, f Func, initial time.Duration) {
	r.mu.Lock()
	if old, ok := r.byName[name]; ok {
		heap.Remove(&r.heap, old.index)
		delete(r.byName, name)
	}
	t := &task{name: name, f: f, due: time.Now().Add(initial)}
	r.byName[name] = t
	heap.Push(&r.heap, t)
	r.mu.Unlock()
	r.poke()
}

// RegOnce installs a one-shot task, e.g. AbortFileTimeout.
func (r *Registry) RegOnce(name string, after time.Duration, f func()) {
	r.Reg(name, func() time.Duration {
		f()
		return 0
	}, after)
	r.mu.Lock()
	if t, ok := r.byName[name]; ok {
		t.oneShot = true
	}
	r.mu.Unlock()
}

func (r *Registry) Unreg(name string) {
	r.mu.Lock()
	if t, ok := r.byName[name]; ok {
		heap.Remove(&r.heap, t.index)
		delete(r.byName, name)
	}
	r.mu.Unlock()
}

func (r *Registry) poke() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Registry) nextWait() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.heap) == 0 {
		return -1
	}
	return time.Until(r.heap[0].due)
}

func (r *Registry) runDue() {
	now := time.Now()
	for {
		r.mu.Lock()
		if len(r.heap) == 0 || r.heap[0].due.After(now) {
			r.mu.Unlock()
			return
		}
		t := heap.Pop(&r.heap).(*task)
		delete(r.byName, t.name)
		r.mu.Unlock()

		next := safeCall(t.f)
		if next > 0 && !t.oneShot {
			r.Reg(t.name, t.f, next)
		}
	}
}

func safeCall(f Func) (d time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			ptlog.Errorf("housekeep: task panicked: %v", rec)
			d = 0
		}
	}()
	return f()
}

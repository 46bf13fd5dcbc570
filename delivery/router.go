package delivery

import (
	"sync"
	"time"

	"github.com/nvaistore/partransport/ptcfg"
)

// Router hands each connection's delivery items to either the shared
// global pool or a per-connection individual pool, and performs the
// lazy migration spec.md §4.11 describes: "When connection-blocking-control
// is enabled globally, a connection whose global pool is blocking is
// transparently migrated to a new individual pool on its next enqueue
// attempt".
type Router struct {
	global *Pool

	mu         sync.Mutex
	individual map[string]*Pool
}

func NewRouter(deliverTolerance time.Duration) *Router {
	g := NewPool(deliverTolerance)
	go g.Run()
	return &Router{global: g, individual: make(map[string]*Pool)}
}

// Enqueue routes one delivery item per the connection's configured
// DeliveryThreadUsage and the global pool's current blocking state.
func (r *Router) Enqueue(connID string, mode ptcfg.DeliveryThreadUsage, tolerance time.Duration, it *Item) {
	if mode == ptcfg.Individual {
		r.individualPool(connID, tolerance).Enqueue(it)
		return
	}
	if r.global.Blocking() {
		r.individualPool(connID, tolerance).Enqueue(it)
		return
	}
	r.global.Enqueue(it)
}

func (r *Router) individualPool(connID string, tolerance time.Duration) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.individual[connID]; ok {
		return p
	}
	p := NewPool(tolerance)
	r.individual[connID] = p
	go p.Run()
	return p
}

// ReleaseConnection stops and removes a connection's individual pool, if it
// has one (spec.md §4.10: "wait for delivery pool to drain this
// connection's events ... then optionally send CLOSED").
func (r *Router) ReleaseConnection(connID string) {
	r.mu.Lock()
	p, ok := r.individual[connID]
	if ok {
		delete(r.individual, connID)
	}
	r.mu.Unlock()
	if ok {
		p.Close()
	}
}

package corepump

import (
	"io"
	"sync"

	"github.com/nvaistore/partransport/ptatomic"
	"github.com/nvaistore/partransport/ptlog"
	"github.com/nvaistore/partransport/wire"
)

// Pump is the single writer goroutine for one Queue, draining it onto one
// io.Writer (spec.md §4.5: "exactly one writer goroutine per queue;
// concurrent writes to the same socket are never issued"). conn.Engine
// creates one Queue and one Pump per connection; a Pump does not serve
// several connections.
type Pump struct {
	Queue *Queue
	Conn  io.Writer

	// SendLoad tracks queued-but-unwritten bytes (spec.md §4.5: "send load is
	// decremented once a parcel has been fully written"); nil disables
	// tracking.
	SendLoad *ptatomic.Int64

	// IsCancelled reports whether the file transfer a FILE-channel parcel
	// belongs to has since been aborted, in which case the parcel is
	// dropped rather than written (spec.md §4.5: "a parcel belonging to a
	// cancelled file transfer is discarded rather than sent").
	IsCancelled func(p *wire.Parcel) bool

	// OnWriteError is invoked once, with the error that ended the loop.
	OnWriteError func(error)

	stopOnce sync.Once
	done     chan struct{}
}

func NewPump(q *Queue, conn io.Writer) *Pump {
	return &Pump{Queue: q, Conn: conn, done: make(chan struct{})}
}

// Run drains the queue until it is closed or a write fails. It is meant to
// be run in its own goroutine; one Pump serves exactly one Queue and Conn.
func (p *Pump) Run() {
	defer close(p.done)
	for {
		parcel, ok := p.Queue.Pop()
		if !ok {
			return
		}
		if p.IsCancelled != nil && parcel.Channel == wire.FILE && p.IsCancelled(parcel) {
			p.decrLoad(parcel)
			continue
		}
		if err := parcel.Write(p.Conn); err != nil {
			p.decrLoad(parcel)
			ptlog.Warningf("corepump: write failed: %v", err)
			if p.OnWriteError != nil {
				p.OnWriteError(err)
			}
			return
		}
		p.decrLoad(parcel)
		if parcel.OnSent != nil {
			parcel.OnSent()
		}
	}
}

func (p *Pump) decrLoad(parcel *wire.Parcel) {
	if p.SendLoad != nil {
		p.SendLoad.Add(-int64(parcel.Len()))
	}
}

// Stop closes the underlying queue, causing Run to return once drained of
// in-flight Pop calls.
func (p *Pump) Stop() {
	p.stopOnce.Do(func() { p.Queue.Close() })
}

// Done reports a channel closed once Run has returned.
func (p *Pump) Done() <-chan struct{} { return p.done }

package conn

import (
	"sync"
	"time"

	"github.com/nvaistore/partransport/delivery"
	"github.com/nvaistore/partransport/ptcfg"
	"github.com/nvaistore/partransport/ptlog"
	"github.com/nvaistore/partransport/wire"
)

// Event is one connection-level notification posted to the delivery pool
// (spec.md §6: "Connection events (dispatched to listeners)").
type Event struct {
	Kind     EventKind
	ConnID   string
	Info     int64
	Msg      string
	Priority wire.Priority
	ObjectID int64
	Object   any
	Idle     bool
	Exchange int64
	Echo     int64
}

type EventKind int

const (
	EvConnected EventKind = iota
	EvShutdown
	EvClosed
	EvIdle
	EvObject
	EvAborted
	EvPingEcho
	EvTransEvt
)

// FileEvent is one file-transmission notification (spec.md §6: "File
// transmission events").
type FileEvent struct {
	Kind              FileEventKind
	ConnID            string
	ObjectID          int64
	Outgoing          bool
	Priority          wire.Priority
	ExpectedLength    int64
	TransmissionLength int64
	Duration          time.Duration
	Path              string
	Info              int64
	Cause             error
}

type FileEventKind int

const (
	FileSending FileEventKind = iota
	FileIncoming
	FileAborted
	FileReceived
	FileConfirmed
)

// Listener receives both connection-level and file-transmission events.
// Implementations must not block; a listener that panics has its panic
// caught and logged, without interrupting delivery to the remaining
// listeners (spec.md §7: "A listener throwing an exception is swallowed").
type Listener interface {
	OnEvent(Event)
	OnFileEvent(FileEvent)
}

// ListenerSet is a copy-on-iterate registration list (spec.md §5: "Listener
// set: copy-on-iterate to tolerate listeners mutating the set during
// dispatch").
type ListenerSet struct {
	mu   sync.Mutex
	list []Listener

	// Router, when non-nil, routes Dispatch/DispatchFile through spec.md
	// §4.11's delivery pool instead of invoking listeners synchronously on
	// the caller's goroutine (input-processor, receive-processor, etc).
	Router   *delivery.Router
	ConnID   string
	Mode     ptcfg.DeliveryThreadUsage
	Tolerance time.Duration
}

func (s *ListenerSet) Add(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = append(s.list, l)
}

func (s *ListenerSet) Remove(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.list[:0]
	for _, x := range s.list {
		if x != l {
			out = append(out, x)
		}
	}
	s.list = out
}

func (s *ListenerSet) snapshot() []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Listener, len(s.list))
	copy(cp, s.list)
	return cp
}

// Dispatch invokes every listener in registration order, catching panics
// (spec.md §4.11: "Listeners are invoked sequentially in registration
// order; exceptions thrown by listeners are caught, logged"). When Router
// is set, delivery happens on the pool's own goroutine instead of the
// caller's, per spec.md §4.11's priority-ordered delivery pool.
func (s *ListenerSet) Dispatch(ev Event) {
	deliver := func() {
		for _, l := range s.snapshot() {
			safeOnEvent(l, ev)
		}
	}
	if s.Router == nil {
		deliver()
		return
	}
	s.Router.Enqueue(s.ConnID, s.Mode, s.Tolerance, &delivery.Item{ConnID: s.ConnID, Priority: ev.Priority, Deliver: deliver})
}

func (s *ListenerSet) DispatchFile(ev FileEvent) {
	deliver := func() {
		for _, l := range s.snapshot() {
			safeOnFileEvent(l, ev)
		}
	}
	if s.Router == nil {
		deliver()
		return
	}
	s.Router.Enqueue(s.ConnID, s.Mode, s.Tolerance, &delivery.Item{ConnID: s.ConnID, Priority: ev.Priority, Deliver: deliver})
}

func safeOnEvent(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			ptlog.Errorf("conn: listener panicked on %v event: %v", ev.Kind, r)
		}
	}()
	l.OnEvent(ev)
}

func safeOnFileEvent(l Listener, ev FileEvent) {
	defer func() {
		if r := recover(); r != nil {
			ptlog.Errorf("conn: listener panicked on %v file event: %v", ev.Kind, r)
		}
	}()
	l.OnFileEvent(ev)
}

// DefaultConnectionListener is the engine's own baseline listener (spec.md
// §7/§9): it reacts to object-fatal abort codes 207/209 by initiating a
// graceful shutdown with error code 11, and otherwise just logs.
type DefaultConnectionListener struct {
	Engine *Engine
}

func (d *DefaultConnectionListener) OnEvent(ev Event) {
	switch ev.Kind {
	case EvAborted:
		if ev.Info == ObjectAbortUnregistered || ev.Info == ObjectAbortCodecUnavailable {
			ptlog.Warningf("conn %s: object-fatal abort %d, initiating shutdown", d.Engine.ID(), ev.Info)
			d.Engine.Shutdown(ErrSerializationInducedClose, "object-fatal abort")
		}
	case EvClosed:
		ptlog.Infof("conn %s: closed (%d) %s", ev.ConnID, ev.Info, ev.Msg)
	default:
	}
}

func (d *DefaultConnectionListener) OnFileEvent(ev FileEvent) {
	if ev.Kind == FileAborted {
		ptlog.Warningf("conn %s: file %d aborted (%d)", ev.ConnID, ev.ObjectID, ev.Info)
	}
}

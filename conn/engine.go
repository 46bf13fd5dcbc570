package conn

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nvaistore/partransport/agglom"
	"github.com/nvaistore/partransport/codec"
	"github.com/nvaistore/partransport/corepump"
	"github.com/nvaistore/partransport/delivery"
	"github.com/nvaistore/partransport/housekeep"
	"github.com/nvaistore/partransport/ioex"
	"github.com/nvaistore/partransport/ptatomic"
	"github.com/nvaistore/partransport/ptcfg"
	"github.com/nvaistore/partransport/ptlog"
	"github.com/nvaistore/partransport/ptstats"
	"github.com/nvaistore/partransport/sendsep"
	"github.com/nvaistore/partransport/wire"
)

var ErrListOverflow = errors.New("conn: queue is at capacity")

// pendingSend is one application object queued for input-processor pickup.
type pendingSend struct {
	objectID int64
	obj      any
	priority wire.Priority
}

// Engine is the per-connection transport engine (spec.md §4.6-§4.11): the
// object/file parcelization state machine, the signal digester, and the
// four-state lifecycle, wired around one already-handshaken net.Conn.
type Engine struct {
	id       string
	netConn  net.Conn
	params   *Monitor
	codecReg *codec.Registry
	ioTable  *ioex.Table
	hk       *housekeep.Registry

	sendQueue *corepump.Queue
	pump      *corepump.Pump
	sendLoad  ptatomic.Int64

	state      ptatomic.Int32
	Listeners  ListenerSet
	waitClosed chan struct{}
	closeOnce  sync.Once

	nextObjID ptatomic.Int64

	sendq           *inputQueue
	fileQueue       chan *sendsep.SendFileOrder
	fileQueueClosed bool

	mu         sync.Mutex
	codecSlots codec.Slots
	objSends   map[int64]*sendsep.ObjectSendSeparation
	fileSends  map[int64]*sendsep.SendFileOrder
	objRecv    map[int64]*agglom.ObjectAgglomerator
	fileRecv   map[int64]*agglom.FileAgglomerator

	objectsAllSent ptatomic.Bool
	filesAllSent   ptatomic.Bool
	remoteAllSent  ptatomic.Bool

	lastConfirmedAlive time.Time
	lastVolume         int64
	lastVolumeAt       time.Time
	lastScheduleAt     time.Time
	idleActive         ptatomic.Bool
}

// NewEngine constructs an unstarted engine bound to an already-handshaken
// connection. Start() transitions it UNCONNECTED -> CONNECTED.
func NewEngine(netConn net.Conn, params ptcfg.ConnParams, codecReg *codec.Registry, ioTable *ioex.Table, hk *housekeep.Registry) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		id:         uuid.NewString(),
		netConn:    netConn,
		codecReg:   codecReg,
		ioTable:    ioTable,
		hk:         hk,
		sendQueue:  corepump.NewQueue(),
		waitClosed: make(chan struct{}),
		sendq:      newInputQueue(params.ObjectQueueCapacity),
		fileQueue:  make(chan *sendsep.SendFileOrder, params.ObjectQueueCapacity),
		objSends:   make(map[int64]*sendsep.ObjectSendSeparation),
		fileSends:  make(map[int64]*sendsep.SendFileOrder),
		objRecv:    make(map[int64]*agglom.ObjectAgglomerator),
		fileRecv:   make(map[int64]*agglom.FileAgglomerator),
	}
	e.params = NewMonitor(params, e.State)
	slots, ok := codecReg.NewSlots(codec.Method(params.SerialisationMethod))
	if !ok {
		return nil, errors.New("conn: no codec registered for configured serialisationMethod")
	}
	e.codecSlots = slots
	e.state.Store(int32(Unconnected))
	e.Listeners.ConnID = e.id
	e.Listeners.Mode = params.DeliveryThreads
	e.Listeners.Tolerance = params.DeliverTolerance
	return e, nil
}

// UseDeliveryPool routes this engine's event dispatch through a shared
// delivery.Router (spec.md §4.11) instead of delivering synchronously on
// the calling goroutine. Must be called before Start.
func (e *Engine) UseDeliveryPool(r *delivery.Router) { e.Listeners.Router = r }

func (e *Engine) ID() string  { return e.id }
func (e *Engine) State() State { return State(e.state.Load()) }

// transition enforces spec.md §4.10's strict forward-only ranking.
func (e *Engine) transition(to State) bool {
	for {
		cur := State(e.state.Load())
		if to.rank() <= cur.rank() {
			return false
		}
		if e.state.CAS(int32(cur), int32(to)) {
			return true
		}
	}
}

// Start performs the U->C transition and launches the engine's worker
// goroutines: receive-processor, input-processor, send-file-processor, and
// this connection's own core-send pump (spec.md §4.10: "Fires CONNECTED event; starts
// input, receive, optional alive-send/alive-receive, optional idle-check").
func (e *Engine) Start() {
	if !e.transition(Connected) {
		return
	}
	e.pump = corepump.NewPump(e.sendQueue, e.netConn)
	e.pump.SendLoad = &e.sendLoad
	e.pump.IsCancelled = e.isFileCancelled
	e.pump.OnWriteError = func(err error) { e.CloseHard(ErrSocket, err.Error()) }

	go e.pump.Run()
	go e.receiveLoop()
	go e.inputProcessorLoop()
	go e.fileSendProcessorLoop()
	e.startTimers()

	e.Listeners.Dispatch(Event{Kind: EvConnected, ConnID: e.id})
}

func (e *Engine) sendLoadLimit() int64 { return e.params.Snapshot().SendLoadLimit() }

func (e *Engine) isFileCancelled(p *wire.Parcel) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.fileSends[p.ObjectID]
	return !ok
}

func (e *Engine) nextObjectID() int64 { return e.nextObjID.Add(1) }

func (e *Engine) enqueueParcel(p *wire.Parcel) {
	ptstats.ParcelsSent.WithLabelValues(p.Channel.String()).Inc()
	e.sendLoad.Add(int64(p.Len()))
	ptstats.SendLoad.WithLabelValues(e.id).Set(float64(e.sendLoad.Load()))
	e.sendQueue.Push(p)
}

func (e *Engine) logf(format string, args ...any) { ptlog.Infof("conn %s: "+format, append([]any{e.id}, args...)...) }

package conn

import (
	"time"

	"github.com/nvaistore/partransport/codec"
	"github.com/nvaistore/partransport/ptlog"
	"github.com/nvaistore/partransport/sendsep"
	"github.com/nvaistore/partransport/wire"
)

// SendObject enqueues an application object for transmission (spec.md §5:
// "sendObject fails with ListOverflow when the input-queue size >=
// objectQueueCapacity"). It returns the assigned, strictly-increasing
// object id.
func (e *Engine) SendObject(obj any, priority wire.Priority) (int64, error) {
	if e.State() != Connected {
		return 0, errNotConnected
	}
	id := e.nextObjectID()
	if err := e.sendq.Push(pendingSend{objectID: id, obj: obj, priority: priority}); err != nil {
		return 0, err
	}
	return id, nil
}

// SendFile enqueues an outgoing file transmission (spec.md §4.4).
func (e *Engine) SendFile(localPath, remotePath string, priority wire.Priority, transaction int64) (int64, error) {
	if e.State() != Connected {
		return 0, errNotConnected
	}
	id := e.nextObjectID()
	order, err := sendsep.NewSendFileOrder(id, localPath, remotePath, priority, transaction)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	if e.fileQueueClosed {
		e.mu.Unlock()
		return 0, errNotConnected
	}
	select {
	case e.fileQueue <- order:
		e.mu.Unlock()
		return id, nil
	default:
		e.mu.Unlock()
		return 0, ErrListOverflow
	}
}

// inputProcessorLoop drains e.sendq, pulling one parcel at a time from the
// highest-priority object's separator and requeuing it if more remain
// (spec.md §4.6), so a low-priority object submitted first never blocks
// parcelization of a higher-priority one queued after it.
func (e *Engine) inputProcessorLoop() {
	for {
		it, ok := e.sendq.popHead()
		if !ok {
			e.objectsAllSent.Store(true)
			e.maybeEndOfShutdown()
			return
		}
		if e.stepObject(it) {
			e.sendq.requeue(it)
		}
	}
}

// stepObject lazily builds it.sep on first use, pulls exactly one parcel
// from it, and reports whether the object has more parcels to come.
func (e *Engine) stepObject(it *sendItem) (more bool) {
	if it.sep == nil {
		params := e.params.Snapshot()
		it.sep = sendsep.NewObjectSendSeparation(it.objectID, it.pending.obj, codec.Method(params.SerialisationMethod), it.priority, params.TransmissionParcelSize, params.MaxSerialisationSize)
		e.mu.Lock()
		e.objSends[it.objectID] = it.sep
		e.mu.Unlock()
	}

	e.waitForSendRoom()
	p, err := it.sep.NextParcel(e.codecSlots.Send)
	if err != nil {
		ptlog.Warningf("conn %s: object %d send failed: %v", e.id, it.objectID, err)
		e.Listeners.Dispatch(Event{Kind: EvAborted, ConnID: e.id, ObjectID: it.objectID, Info: ObjectAbortCodecFailure, Msg: err.Error()})
		e.mu.Lock()
		delete(e.objSends, it.objectID)
		e.mu.Unlock()
		return false
	}
	if p == nil {
		e.mu.Lock()
		delete(e.objSends, it.objectID)
		e.mu.Unlock()
		return false
	}
	e.throttle(p)
	e.enqueueParcel(p)
	return true
}

// waitForSendRoom blocks while currentSendLoad >= sendLoadLimit or
// transmissionSpeed == 0 (spec.md §5 suspension points).
func (e *Engine) waitForSendRoom() {
	for {
		params := e.params.Snapshot()
		if params.TransmissionSpeed != 0 && e.sendLoad.Load() < e.sendLoadLimit() {
			return
		}
		select {
		case <-e.waitClosed:
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// throttle applies spec.md §5's bandwidth-shaping formula before a parcel
// is handed to the pump.
func (e *Engine) throttle(p *wire.Parcel) {
	speed := e.params.Snapshot().TransmissionSpeed
	if speed <= 0 {
		return // -1 unlimited; 0 handled by waitForSendRoom
	}
	now := time.Now()
	shouldLast := time.Duration(int64(p.Len()) * int64(time.Second) / speed)
	hasTaken := now.Sub(e.lastScheduled())
	if shouldLast > hasTaken {
		time.Sleep(shouldLast - hasTaken)
	}
	e.setLastScheduled(time.Now())
}

func (e *Engine) lastScheduled() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastScheduleAt
}

func (e *Engine) setLastScheduled(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastScheduleAt = t
}

// fileSendProcessorLoop drains e.fileQueue, starting each file's reservation
// and lazily emitting parcels the same way stepObject does for objects
// (spec.md §4.4/§4.5: "send-file-processor ... only while there are file
// orders").
func (e *Engine) fileSendProcessorLoop() {
	for {
		select {
		case order, ok := <-e.fileQueue:
			if !ok {
				e.filesAllSent.Store(true)
				e.maybeEndOfShutdown()
				return
			}
			e.drainFile(order)
		case <-e.waitClosed:
			return
		}
	}
}

func (e *Engine) drainFile(order *sendsep.SendFileOrder) {
	params := e.params.Snapshot()
	if err := order.StartSending(e.ioTable, params.TransmissionParcelSize); err != nil {
		e.Listeners.DispatchFile(FileEvent{Kind: FileAborted, ConnID: e.id, ObjectID: order.FileID, Outgoing: true, Info: FileAbortIOExclusion, Cause: err})
		return
	}
	e.mu.Lock()
	e.fileSends[order.FileID] = order
	e.mu.Unlock()
	e.Listeners.DispatchFile(FileEvent{Kind: FileSending, ConnID: e.id, ObjectID: order.FileID, Outgoing: true, Priority: order.Priority, ExpectedLength: order.FileLength, Path: order.RemotePath})

	confirmTimeout := e.params.Snapshot().ConfirmTimeout
	for {
		e.waitForSendRoom()
		e.mu.Lock()
		_, stillLive := e.fileSends[order.FileID]
		e.mu.Unlock()
		if !stillLive {
			return // cancelled mid-transfer; pump will have dropped any in-flight parcel too
		}
		p, err, eof := order.NextParcel(params.TransmissionParcelSize)
		if err != nil {
			// spec.md §4.7: "Errors on read raise breakTransfer(111, 2, cause)".
			e.abortFile(order, FileAbortOutOfOrder, 2, err)
			return
		}
		if eof {
			break
		}
		e.throttle(p)
		if order.IsLastParcel() {
			e.armAbortTimeout(order, confirmTimeout)
		}
		e.enqueueParcel(p)
	}
}

func (e *Engine) armAbortTimeout(order *sendsep.SendFileOrder, confirmTimeout time.Duration) {
	name := "abort-file-" + e.id + "-" + itoa(order.FileID)
	e.hk.RegOnce(name, order.AbortDeadline(confirmTimeout), func() {
		e.mu.Lock()
		_, still := e.fileSends[order.FileID]
		e.mu.Unlock()
		if still {
			// spec.md §8 scenario 4: sender fires FILE_ABORTED(103) on
			// confirm-timeout; receiver already has nothing to drop, so no
			// BREAK subtype is sent (signalSubtype<0 suppresses it).
			e.abortFile(order, FileAbortConfirmTimeout, -1, nil)
		}
	})
}

// abortFile is the sender-side breakTransfer (spec.md §4.4/§4.7):
// eventInfo is the FILE_ABORTED code fired locally; signalSubtype, if >= 0,
// is the BREAK subtype sent to the peer so it drops the matching side of
// its own bookkeeping (spec.md §4.9 table).
func (e *Engine) abortFile(order *sendsep.SendFileOrder, eventInfo, signalSubtype int64, cause error) {
	e.mu.Lock()
	delete(e.fileSends, order.FileID)
	e.mu.Unlock()
	order.BreakTransfer()
	if signalSubtype >= 0 {
		e.enqueueParcel(signalParcel(Signal{Type: SigBreak, Info: order.FileID, Arg2: signalSubtype}, wire.HIGH))
	}
	e.Listeners.DispatchFile(FileEvent{Kind: FileAborted, ConnID: e.id, ObjectID: order.FileID, Outgoing: true, Info: eventInfo, Cause: cause})
}

var errNotConnected = &notConnectedError{}

type notConnectedError struct{}

func (*notConnectedError) Error() string { return "conn: engine is not CONNECTED" }

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

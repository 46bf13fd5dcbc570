package conn

import (
	"github.com/nvaistore/partransport/sendsep"
	"github.com/nvaistore/partransport/wire"
)

// Shutdown performs the C->S transition (spec.md §4.10): stop accepting new
// send orders, allow in-flight sends to drain, and — unless this call is
// itself reacting to a received SHUTDOWN signal — notify the peer. A
// FINAL(sequenceNr=1) parcel is queued last (spec.md §4.5: "FINAL last"),
// its OnSent task driving the local half of the end-of-shutdown predicate
// once it has actually gone out over the wire; the peer's receive loop sets
// remoteAllSent on its own FINAL(seq=1) the symmetric way. A shutdown-
// timeout guards against a peer that never reciprocates (spec.md §5:
// "shutdown-timeout triggers hard close if exceeded"; §8 scenario 1).
func (e *Engine) Shutdown(reason int64, msg string) error {
	if !e.transition(Shutdown) {
		return errNotConnected
	}
	e.closeSendQueues()
	e.Listeners.Dispatch(Event{Kind: EvShutdown, ConnID: e.id, Info: reason, Msg: msg})

	if reason != ErrRemoteServerShutdown {
		e.enqueueParcel(signalParcel(Signal{Type: SigShutdown, Info: reason, Msg: msg}, wire.TOP))
	}
	final := &wire.Parcel{Channel: wire.FINAL, Priority: wire.TOP, SequenceNr: 1}
	final.OnSent = e.maybeEndOfShutdown
	e.enqueueParcel(final)

	e.hk.RegOnce("shutdown-timeout-"+e.id, e.params.Snapshot().ConfirmTimeout, func() {
		if e.State() == Shutdown {
			e.CloseHard(reason, msg)
		}
	})
	return nil
}

// closeSendQueues stops accepting new application sends. The input queue
// guards its own closed flag under its own lock (Push vs Close can never
// race onto a closed channel); the file queue is a plain chan, so its close
// is serialized against SendFile under e.mu instead (spec.md §7: "no
// panics").
func (e *Engine) closeSendQueues() {
	e.sendq.Close()
	e.mu.Lock()
	if !e.fileQueueClosed {
		e.fileQueueClosed = true
		close(e.fileQueue)
	}
	e.mu.Unlock()
}

// maybeEndOfShutdown implements the end-of-shutdown predicate (spec.md
// §4.10: "objectsAllSent ∧ filesAllSent ∧ remoteAllSent"). It is invoked
// from four places: input-processor drain, file-send-processor drain, the
// ALL-SENT parcel's attached OnSent timer task, and the receive loop on a
// peer's FINAL(seq=1), so it is safe (and expected) to be called repeatedly
// before it actually holds.
func (e *Engine) maybeEndOfShutdown() {
	if e.State() != Shutdown {
		return
	}
	if e.objectsAllSent.Load() && e.filesAllSent.Load() && e.remoteAllSent.Load() {
		e.finishClose(0, "end-of-shutdown")
	}
}

// CloseHard performs the direct C->CLO transition (spec.md §4.10: cancel
// all timers, abort all in-flight transfers with error, close the socket
// immediately, skip the graceful SHUTDOWN exchange, best-effort CLOSED).
func (e *Engine) CloseHard(reason int64, msg string) {
	if !e.transition(Closed) {
		return
	}
	e.closeOnce.Do(func() {
		close(e.waitClosed)
	})
	e.hk.Unreg("shutdown-timeout-" + e.id)
	e.closeSendQueues()
	e.stopTimers()
	e.abortAllInFlight(reason)

	if e.pump != nil {
		e.pump.Stop()
	}
	signalParcel(Signal{Type: SigClosed, Info: reason, Msg: msg}, wire.TOP).Write(e.netConn) //nolint:errcheck // best-effort; socket is torn down regardless
	e.netConn.Close()
	e.Listeners.Dispatch(Event{Kind: EvClosed, ConnID: e.id, Info: reason, Msg: msg})
	e.releaseDeliveryPool()
}

// finishClose is the graceful S->CLO path once end-of-shutdown holds.
func (e *Engine) finishClose(reason int64, msg string) {
	if !e.transition(Closed) {
		return
	}
	e.closeOnce.Do(func() {
		close(e.waitClosed)
	})
	e.hk.Unreg("shutdown-timeout-" + e.id)
	e.stopTimers()
	if e.pump != nil {
		e.pump.Stop()
		<-e.pump.Done()
	}
	e.netConn.Close()
	e.Listeners.Dispatch(Event{Kind: EvClosed, ConnID: e.id, Info: reason, Msg: msg})
	e.releaseDeliveryPool()
}

// releaseDeliveryPool drops this connection's individual delivery pool, if
// the router ever migrated it onto one (spec.md §4.10: "wait for delivery
// pool to drain this connection's events ... then optionally send CLOSED").
func (e *Engine) releaseDeliveryPool() {
	if e.Listeners.Router != nil {
		e.Listeners.Router.ReleaseConnection(e.id)
	}
}

// abortAllInFlight fires FILE_ABORTED/ABORTED for every outstanding
// transfer (spec.md §4.10: "On entering CLOSED: ... abort all in-flight
// transfers").
func (e *Engine) abortAllInFlight(reason int64) {
	e.mu.Lock()
	fileSends := e.fileSends
	e.fileSends = make(map[int64]*sendsep.SendFileOrder)
	fileRecv := e.fileRecv
	e.fileRecv = nil
	objSends := e.objSends
	e.objSends = nil
	e.mu.Unlock()

	for id, order := range fileSends {
		order.BreakTransfer()
		e.Listeners.DispatchFile(FileEvent{Kind: FileAborted, ConnID: e.id, ObjectID: id, Outgoing: true, Info: FileAbortAtClose1})
	}
	for id, agg := range fileRecv {
		agg.Abort()
		e.Listeners.DispatchFile(FileEvent{Kind: FileAborted, ConnID: e.id, ObjectID: id, Info: FileAbortAtClose2})
	}
	for id := range objSends {
		e.Listeners.Dispatch(Event{Kind: EvAborted, ConnID: e.id, ObjectID: id, Info: ObjectAbortOutOfOrder})
	}
}

package conn

import (
	"errors"
	"io"
	"time"

	"github.com/nvaistore/partransport/agglom"
	"github.com/nvaistore/partransport/ptlog"
	"github.com/nvaistore/partransport/ptstats"
	"github.com/nvaistore/partransport/wire"
)

// receiveLoop is the receive-processor (spec.md §3: "Inbound: receive-
// processor reads parcels from socket -> routes by channel"). It runs until
// the socket errors or CLOSED is reached.
func (e *Engine) receiveLoop() {
	for {
		p, err := wire.Read(e.netConn)
		if err != nil {
			if e.State() >= Shutdown && errors.Is(err, io.EOF) {
				e.CloseHard(ErrSocketEOFDuringShutdown, "socket EOF during shutdown")
			} else if !errors.Is(err, io.EOF) {
				e.CloseHard(ErrSocket, err.Error())
			} else {
				e.CloseHard(ErrRemoteGracefulClose, "remote closed")
			}
			return
		}
		ptstats.ParcelsReceived.WithLabelValues(p.Channel.String()).Inc()
		e.lastVolume += int64(p.Len())

		switch p.Channel {
		case wire.SIGNAL:
			e.handleSignalParcel(p)
		case wire.OBJECT:
			e.handleObjectParcel(p)
		case wire.FILE:
			e.handleFileParcel(p)
		case wire.FINAL:
			if p.SequenceNr == 1 {
				e.remoteAllSent.Store(true)
				e.maybeEndOfShutdown()
			}
		}
	}
}

func (e *Engine) handleSignalParcel(p *wire.Parcel) {
	sig, ok := decodeSignal(p.Payload)
	if !ok {
		ptlog.Warningf("conn %s: malformed signal, dropping", e.id)
		return
	}
	e.digestSignal(sig)
}

func (e *Engine) handleObjectParcel(p *wire.Parcel) {
	e.mu.Lock()
	agg, ok := e.objRecv[p.ObjectID]
	if !ok {
		if p.SequenceNr != 0 || p.Ext == nil {
			e.mu.Unlock()
			ptlog.Warningf("conn %s: orphan object parcel %d/%d, dropping", e.id, p.ObjectID, p.SequenceNr)
			return
		}
		var err error
		agg, err = agglom.NewObjectAgglomerator(p.ObjectID, p.Ext, e.params.Snapshot().MaxSerialisationSize)
		if err != nil {
			e.mu.Unlock()
			e.enqueueParcel(signalParcel(Signal{Type: SigFail, Info: p.ObjectID, Arg2: 4}, wire.HIGH))
			e.Listeners.Dispatch(Event{Kind: EvAborted, ConnID: e.id, ObjectID: p.ObjectID, Info: ObjectAbortOversized, Msg: err.Error()})
			return
		}
		e.objRecv[p.ObjectID] = agg
	}
	e.mu.Unlock()

	if err := agg.Digest(p); err != nil {
		e.mu.Lock()
		delete(e.objRecv, p.ObjectID)
		e.mu.Unlock()
		e.enqueueParcel(signalParcel(Signal{Type: SigFail, Info: p.ObjectID, Arg2: 4}, wire.HIGH))
		e.Listeners.Dispatch(Event{Kind: EvAborted, ConnID: e.id, ObjectID: p.ObjectID, Info: ObjectAbortOutOfOrder, Msg: err.Error()})
		return
	}
	if !agg.Complete() {
		return
	}
	e.mu.Lock()
	delete(e.objRecv, p.ObjectID)
	e.mu.Unlock()

	// spec.md §4.8: "Decode failures emit a FAIL signal (info=5 decode
	// error, info=6 codec unavailable) to the remote ... for locally-
	// undecodable types, fire an ABORTED event to local." Only the sender,
	// on receiving that FAIL, fires the corresponding ABORTED(207/209)
	// (spec.md §4.9, §8 scenario 5) — this side just notifies and drops.
	slots, ok := e.codecReg.NewSlots(agg.CodecMethod)
	if !ok {
		ptlog.Warningf("conn %s: object %d: codec method %d unavailable", e.id, p.ObjectID, agg.CodecMethod)
		e.enqueueParcel(signalParcel(Signal{Type: SigFail, Info: p.ObjectID, Arg2: 6}, wire.HIGH))
		return
	}
	obj, err := agg.Decode(slots.Recv)
	if err != nil {
		ptlog.Warningf("conn %s: object %d decode failed: %v", e.id, p.ObjectID, err)
		e.enqueueParcel(signalParcel(Signal{Type: SigFail, Info: p.ObjectID, Arg2: 5}, wire.HIGH))
		return
	}
	e.Listeners.Dispatch(Event{Kind: EvObject, ConnID: e.id, ObjectID: p.ObjectID, Priority: agg.Priority, Object: obj})
	e.enqueueParcel(signalParcel(Signal{Type: SigConfirm, Info: p.ObjectID}, wire.HIGH))
}

func (e *Engine) handleFileParcel(p *wire.Parcel) {
	e.mu.Lock()
	agg, ok := e.fileRecv[p.ObjectID]
	if !ok {
		if p.SequenceNr != 0 || p.Ext == nil {
			e.mu.Unlock()
			ptlog.Warningf("conn %s: orphan file parcel %d/%d, dropping", e.id, p.ObjectID, p.SequenceNr)
			return
		}
		var err error
		agg, err = agglom.NewFileAgglomerator(e.params.Snapshot().FileRootDir, p.ObjectID, p.Ext)
		if err != nil {
			e.mu.Unlock()
			// spec.md §4.8: "reply with BREAK signal, info=1".
			e.enqueueParcel(signalParcel(Signal{Type: SigBreak, Info: p.ObjectID, Arg2: 1}, wire.HIGH))
			e.Listeners.DispatchFile(FileEvent{Kind: FileAborted, ConnID: e.id, ObjectID: p.ObjectID, Info: FileAbortRootDirMissing, Cause: err})
			return
		}
		e.fileRecv[p.ObjectID] = agg
		e.mu.Unlock()
		e.Listeners.DispatchFile(FileEvent{Kind: FileIncoming, ConnID: e.id, ObjectID: p.ObjectID, ExpectedLength: agg.ExpectedSize, Path: agg.DestPath})
	} else {
		e.mu.Unlock()
	}

	if err := agg.Digest(p); err != nil {
		e.mu.Lock()
		delete(e.fileRecv, p.ObjectID)
		e.mu.Unlock()
		agg.Abort()
		// outgoing-group subtype (3): tells the sender to drop its order;
		// this side's own agglomerator is already gone above.
		e.enqueueParcel(signalParcel(Signal{Type: SigBreak, Info: p.ObjectID, Arg2: 3}, wire.HIGH))
		e.Listeners.DispatchFile(FileEvent{Kind: FileAborted, ConnID: e.id, ObjectID: p.ObjectID, Info: FileAbortOutOfOrder, Cause: err})
		return
	}
	if !agg.Complete() {
		return
	}
	e.mu.Lock()
	delete(e.fileRecv, p.ObjectID)
	e.mu.Unlock()

	dest, err := agg.Finish()
	if err != nil {
		// spec.md §4.9: FAIL subtype 2 = "incoming file failure", event 104.
		e.enqueueParcel(signalParcel(Signal{Type: SigFail, Info: p.ObjectID, Arg2: 2}, wire.HIGH))
		e.Listeners.DispatchFile(FileEvent{Kind: FileAborted, ConnID: e.id, ObjectID: p.ObjectID, Info: FileAbortCRCMismatch, Cause: err})
		return
	}
	e.Listeners.DispatchFile(FileEvent{Kind: FileReceived, ConnID: e.id, ObjectID: p.ObjectID, ExpectedLength: agg.ExpectedSize, Path: dest})
	e.enqueueParcel(signalParcel(Signal{Type: SigConfirm, Info: p.ObjectID}, wire.HIGH))
}

// digestSignal routes one decoded SIGNAL-channel payload (spec.md §4.9).
func (e *Engine) digestSignal(sig Signal) {
	switch sig.Type {
	case SigAliveRequest:
		e.enqueueParcel(signalParcel(Signal{Type: SigAliveConfirm}, wire.TOP))
	case SigAliveConfirm, SigAlive:
		e.lastConfirmedAlive = time.Now()
	case SigPing:
		e.enqueueParcel(signalParcel(Signal{Type: SigEcho, Info: sig.Info}, wire.TOP))
	case SigEcho:
		e.Listeners.Dispatch(Event{Kind: EvPingEcho, ConnID: e.id, Echo: sig.Info})
	case SigConfirm:
		e.onFileConfirmed(sig.Info)
	case SigBreak:
		e.onBreak(sig.Info, sig.Arg2)
	case SigFail:
		e.onFail(sig.Info, sig.Arg2)
	case SigTempo:
		e.onTempo(sig.Info)
	case SigShutdown:
		e.Shutdown(ErrRemoteServerShutdown, "remote requested shutdown")
	case SigClosed:
		e.CloseHard(ErrHardClose, "remote closed")
	default:
		ptlog.Warningf("conn %s: unknown signal %v, dropping", e.id, sig.Type)
	}
}

func (e *Engine) onFileConfirmed(fileID int64) {
	e.mu.Lock()
	order, ok := e.fileSends[fileID]
	if ok {
		delete(e.fileSends, fileID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	e.hk.Unreg("abort-file-" + e.id + "-" + itoa(fileID))
	order.Close()
	e.Listeners.DispatchFile(FileEvent{Kind: FileConfirmed, ConnID: e.id, ObjectID: fileID, Outgoing: true, TransmissionLength: order.TransmittedLength})
}

// onBreak routes a received BREAK signal by subtype (spec.md §4.9): the
// incoming-file group {2,4,6} drops this side's incoming agglomerator;
// every other subtype drops this side's outgoing SendFileOrder.
func (e *Engine) onBreak(fileID, subtype int64) {
	if code, ok := incomingBreakCodes[subtype]; ok {
		e.mu.Lock()
		agg, ok := e.fileRecv[fileID]
		if ok {
			delete(e.fileRecv, fileID)
		}
		e.mu.Unlock()
		if !ok {
			return
		}
		agg.Abort()
		e.Listeners.DispatchFile(FileEvent{Kind: FileAborted, ConnID: e.id, ObjectID: fileID, Info: code})
		return
	}
	code, ok := outgoingBreakCodes[subtype]
	if !ok {
		ptlog.Warningf("conn %s: BREAK with unknown subtype %d, dropping", e.id, subtype)
		return
	}
	e.mu.Lock()
	order, ok := e.fileSends[fileID]
	if ok {
		delete(e.fileSends, fileID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	e.hk.Unreg("abort-file-" + e.id + "-" + itoa(fileID))
	order.BreakTransfer()
	e.Listeners.DispatchFile(FileEvent{Kind: FileAborted, ConnID: e.id, ObjectID: fileID, Outgoing: true, Info: code})
}

// onFail routes a received FAIL signal by subtype (spec.md §4.9): subtypes
// 1-3 are file-level and drop this side's outgoing SendFileOrder; subtypes
// 4-6 are object-level.
func (e *Engine) onFail(id, subtype int64) {
	if code, ok := fileFailCodes[subtype]; ok {
		e.mu.Lock()
		order, ok := e.fileSends[id]
		if ok {
			delete(e.fileSends, id)
		}
		e.mu.Unlock()
		if !ok {
			return
		}
		e.hk.Unreg("abort-file-" + e.id + "-" + itoa(id))
		order.BreakTransfer()
		e.Listeners.DispatchFile(FileEvent{Kind: FileAborted, ConnID: e.id, ObjectID: id, Outgoing: true, Info: code})
		return
	}

	switch subtype {
	case 4: // remote discarded an object reception: discard local outgoing record.
		e.mu.Lock()
		_, ok := e.objSends[id]
		delete(e.objSends, id)
		e.mu.Unlock()
		if ok {
			ptlog.Infof("conn %s: object %d discarded by remote, dropping outgoing record", e.id, id)
		}
	case 5: // remote decode error
		e.mu.Lock()
		delete(e.objSends, id)
		e.mu.Unlock()
		e.Listeners.Dispatch(Event{Kind: EvAborted, ConnID: e.id, ObjectID: id, Info: ObjectAbortUnregistered})
	case 6: // remote codec unavailable
		e.mu.Lock()
		delete(e.objSends, id)
		e.mu.Unlock()
		e.Listeners.Dispatch(Event{Kind: EvAborted, ConnID: e.id, ObjectID: id, Info: ObjectAbortCodecUnavailable})
	default:
		ptlog.Warningf("conn %s: FAIL with unknown subtype %d, dropping", e.id, subtype)
	}
}

// onTempo implements peer-driven rate control (spec.md §4.9 TEMPO, §1
// CORE): if the local application never pinned a speed, adopt the peer's;
// otherwise echo the local setting back so the peer stays in sync.
// waitForSendRoom already polls the live speed, so adopting 0 (paused) or a
// positive rate toggles sending off/on without any extra signaling here.
func (e *Engine) onTempo(bps int64) {
	if e.params.IsSpeedFixed() {
		e.enqueueParcel(signalParcel(Signal{Type: SigTempo, Info: e.params.Snapshot().TransmissionSpeed}, wire.TOP))
		return
	}
	if err := e.params.adoptPeerSpeed(bps); err != nil {
		ptlog.Warningf("conn %s: rejecting peer TEMPO %d: %v", e.id, bps, err)
	}
}

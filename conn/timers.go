package conn

import (
	"time"

	"github.com/nvaistore/partransport/wire"
)

// startTimers registers the alive-send, alive-receive-control, and idle-
// check tasks on the shared housekeep registry (spec.md §4.12), each
// self-cancelling once the connection leaves CONNECTED.
func (e *Engine) startTimers() {
	params := e.params.Snapshot()
	if params.AlivePeriod > 0 {
		e.lastConfirmedAlive = time.Now()
		e.hk.Reg("alive-send-"+e.id, e.aliveSendTick, params.AlivePeriod)
		e.hk.Reg("alive-recv-"+e.id, e.aliveReceiveTick, params.AlivePeriod/2)
	}
	if params.IdleThreshold > 0 {
		e.lastVolumeAt = time.Now()
		e.hk.Reg("idle-check-"+e.id, e.idleCheckTick, params.IdleCheckPeriod)
	}
}

func (e *Engine) stopTimers() {
	e.hk.Unreg("alive-send-" + e.id)
	e.hk.Unreg("alive-recv-" + e.id)
	e.hk.Unreg("idle-check-" + e.id)
}

// aliveSendTick is AliveSendTimer (spec.md §4.12: "periodic; sends ALIVE
// signal; self-cancels if connection not CONNECTED").
func (e *Engine) aliveSendTick() time.Duration {
	if e.State() != Connected {
		return 0
	}
	e.enqueueParcel(signalParcel(Signal{Type: SigAlive}, wire.TOP))
	return e.params.Snapshot().AlivePeriod
}

// aliveReceiveTick is AliveReceiveControl: if no confirmation has been seen
// within tolerance-200ms of period/2, enter graceful SHUTDOWN with error 9
// (spec.md §8 scenario 1: "fire SHUTDOWN(info=9) and then CLOSED(info=9)");
// Shutdown's own shutdown-timeout forces the eventual hard close if the
// peer — being the one that's gone unresponsive — never reciprocates.
func (e *Engine) aliveReceiveTick() time.Duration {
	if e.State() != Connected {
		return 0
	}
	params := e.params.Snapshot()
	tolerance := params.AlivePeriod - 200*time.Millisecond
	if tolerance < 0 {
		tolerance = 0
	}
	if time.Since(e.lastConfirmedAlive) >= tolerance {
		e.Shutdown(ErrAliveTimeout, "alive timeout")
		return 0
	}
	return params.AlivePeriod / 2
}

// idleCheckTick is IdleCheck (spec.md §4.12): computes exchange rate and
// fires an IDLE event on threshold crossing.
func (e *Engine) idleCheckTick() time.Duration {
	if e.State() != Connected {
		return 0
	}
	params := e.params.Snapshot()
	now := time.Now()
	deltaBytes := e.lastVolume
	e.lastVolume = 0
	deltaSeconds := now.Sub(e.lastVolumeAt).Seconds()
	e.lastVolumeAt = now
	if deltaBytes < 0 {
		deltaBytes = 0
	}
	if deltaSeconds < 1 {
		deltaSeconds = 1
	}
	exchange := int64(float64(deltaBytes) * 60 / deltaSeconds)

	wasIdle := e.idleActive.Load()
	nowIdle := exchange < params.IdleThreshold
	if nowIdle != wasIdle {
		e.idleActive.Store(nowIdle)
		info := int64(0)
		if nowIdle {
			info = 1
		}
		e.Listeners.Dispatch(Event{Kind: EvIdle, ConnID: e.id, Idle: nowIdle, Info: info, Exchange: exchange})
	}
	return params.IdleCheckPeriod
}

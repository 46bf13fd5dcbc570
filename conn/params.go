package conn

import (
	"errors"
	"sync"
	"time"

	"github.com/nvaistore/partransport/ptcfg"
)

// ErrStructuralAfterConnect is returned when a structural knob (queue
// capacities) is mutated after CONNECTED (spec.md §5: "mutation of
// connection parameters is only permitted before CONNECTED for structural
// knobs").
var ErrStructuralAfterConnect = errors.New("conn: structural parameter cannot change after CONNECTED")

// Monitor guards live mutation of ConnParams, enforcing spec.md §5's
// structural-vs-live split and propagating live knobs to running
// components via onLiveChange.
type Monitor struct {
	mu         sync.RWMutex
	params     ptcfg.ConnParams
	state      func() State
	speedFixed bool

	onLiveChange func(ptcfg.ConnParams)
}

func NewMonitor(initial ptcfg.ConnParams, state func() State) *Monitor {
	return &Monitor{params: initial, state: state}
}

func (m *Monitor) Snapshot() ptcfg.ConnParams {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.params.Snapshot()
}

// SetQueueCapacities mutates the structural knobs; rejected once CONNECTED.
func (m *Monitor) SetQueueCapacities(parcelCap, objectCap int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state() != Unconnected {
		return ErrStructuralAfterConnect
	}
	m.params.ParcelQueueCapacity = parcelCap
	m.params.ObjectQueueCapacity = objectCap
	return m.params.Validate()
}

// SetTransmissionSpeed mutates a live knob (spec.md §5 bandwidth shaping);
// permitted at any state and propagated immediately. Calling it pins the
// speed as locally fixed, so a later peer TEMPO signal (spec.md §4.9) will
// be echoed back rather than adopted.
func (m *Monitor) SetTransmissionSpeed(bytesPerSec int64) error {
	m.mu.Lock()
	m.params.TransmissionSpeed = bytesPerSec
	m.speedFixed = true
	err := m.params.Validate()
	cb := m.onLiveChange
	snap := m.params.Snapshot()
	m.mu.Unlock()
	if err == nil && cb != nil {
		cb(snap)
	}
	return err
}

// IsSpeedFixed reports whether the application has ever called
// SetTransmissionSpeed itself, as opposed to the speed being whatever a
// peer's TEMPO signal last adopted (spec.md §4.9).
func (m *Monitor) IsSpeedFixed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.speedFixed
}

// adoptPeerSpeed applies a peer-driven TEMPO value without pinning the
// speed as locally fixed (spec.md §4.9: "if not locally fixed, adopt
// speed").
func (m *Monitor) adoptPeerSpeed(bytesPerSec int64) error {
	m.mu.Lock()
	m.params.TransmissionSpeed = bytesPerSec
	err := m.params.Validate()
	cb := m.onLiveChange
	snap := m.params.Snapshot()
	m.mu.Unlock()
	if err == nil && cb != nil {
		cb(snap)
	}
	return err
}

// SetAlivePeriod mutates a live knob.
func (m *Monitor) SetAlivePeriod(period time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params.AlivePeriod = period
	return m.params.Validate()
}

func (m *Monitor) OnLiveChange(cb func(ptcfg.ConnParams)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLiveChange = cb
}

package conn

import (
	"encoding/binary"

	"github.com/nvaistore/partransport/wire"
)

// encodeSignal lays a Signal out as [1]type [8]info [8]arg2 [msg...], the
// SIGNAL-channel parcel's payload (spec.md §4.9).
func encodeSignal(s Signal) []byte {
	b := make([]byte, 17+len(s.Msg))
	b[0] = byte(s.Type)
	binary.BigEndian.PutUint64(b[1:9], uint64(s.Info))
	binary.BigEndian.PutUint64(b[9:17], uint64(s.Arg2))
	copy(b[17:], s.Msg)
	return b
}

func decodeSignal(b []byte) (Signal, bool) {
	if len(b) < 17 {
		return Signal{}, false
	}
	return Signal{
		Type: SignalType(b[0]),
		Info: int64(binary.BigEndian.Uint64(b[1:9])),
		Arg2: int64(binary.BigEndian.Uint64(b[9:17])),
		Msg:  string(b[17:]),
	}, true
}

// signalParcel wraps a Signal as a ready-to-queue SIGNAL-channel parcel.
func signalParcel(s Signal, priority wire.Priority) *wire.Parcel {
	return &wire.Parcel{
		Channel:  wire.SIGNAL,
		Priority: priority,
		Payload:  encodeSignal(s),
	}
}

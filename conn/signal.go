package conn

// SignalType enumerates the SIGNAL-channel control vocabulary named in
// spec.md §4.9.
type SignalType uint8

const (
	SigAliveRequest SignalType = iota
	SigAliveConfirm
	SigAlive
	SigPing
	SigEcho
	SigBreak
	SigConfirm
	SigFail
	SigShutdown
	SigClosed
	SigTempo
	SigIdle
)

func (s SignalType) String() string {
	names := [...]string{
		"ALIVE_REQUEST", "ALIVE_CONFIRM", "ALIVE", "PING", "ECHO", "BREAK",
		"CONFIRM", "FAIL", "SHUTDOWN", "CLOSED", "TEMPO", "IDLE",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "UNKNOWN"
}

// Signal is the decoded payload of a SIGNAL-channel parcel (spec.md §4.9).
// Encoding on the wire is a minimal fixed layout: 1 byte type, 8 bytes
// info/arg, 8 bytes a second arg (pingId/echo id/exchange rate as needed),
// remainder a UTF-8 message.
type Signal struct {
	Type SignalType
	Info int64
	Arg2 int64
	Msg  string
}

// Error codes (spec.md §6, abridged).
const (
	ErrRemoteGracefulClose        = 2
	ErrRemoteServerShutdown       = 3
	ErrSocketEOFDuringShutdown    = 4
	ErrInternal                   = 5
	ErrSocket                     = 6
	ErrShutdownTimeout            = 8
	ErrAliveTimeout               = 9
	ErrHardClose                  = 10
	ErrSerializationInducedClose  = 11
)

// File-transfer abort reasons (spec.md §6, abridged). 102 is a locally
// chosen gap: the abridged list has no code for a send-start IO-exclusion
// denial, so it does not ride the BREAK/FAIL subtype table below.
const (
	FileAbortRootDirMissing = 101
	FileAbortIOExclusion    = 102
	FileAbortConfirmTimeout = 103 // sender's AbortFileTimeout firing (spec.md §8 scenario 4)
	FileAbortCRCMismatch    = 104
	FileAbortTimeout        = 106
	FileAbortLocalError     = 107
	FileAbortRemoteError    = 108
	FileAbortConnClosed     = 109
	FileAbortOrphanParcel   = 110
	FileAbortOutOfOrder     = 111
	FileAbortCancelled      = 112
	FileAbortAtClose1       = 113
	FileAbortAtClose2       = 114
	FileAbortRenameFailed   = 115
	FileAbortQueueOverflow  = 116
)

// Object-abort reasons (spec.md §6, abridged). 201 is a locally chosen gap:
// NewObjectAgglomerator's size-validation failure has no code of its own in
// the abridged list, so it does not ride the FAIL(5)/FAIL(6) pairing below.
const (
	ObjectAbortOversized        = 201
	ObjectAbortCodecFailure     = 203
	ObjectAbortOutOfOrder       = 205
	ObjectAbortUnregistered     = 207
	ObjectAbortCodecUnavailable = 209
)

// incomingBreakCodes maps a received BREAK subtype in {2,4,6} to the local
// FILE_ABORTED code fired when dropping this side's incoming agglomerator
// (spec.md §4.9 table).
var incomingBreakCodes = map[int64]int64{
	2: FileAbortCancelled,
	4: FileAbortTimeout,
	6: FileAbortQueueOverflow,
}

// outgoingBreakCodes maps a received BREAK subtype outside {2,4,6} to the
// local FILE_ABORTED code fired when dropping this side's outgoing
// SendFileOrder (spec.md §4.9 table).
var outgoingBreakCodes = map[int64]int64{
	1: FileAbortRootDirMissing,
	3: FileAbortLocalError,
	5: FileAbortRenameFailed,
}

// fileFailCodes maps a received FAIL subtype in {1,2,3} to the local
// FILE_ABORTED code fired when dropping this side's outgoing SendFileOrder
// (spec.md §4.9 table: subtypes 1/3 are outgoing failures, 2 is the peer's
// incoming failure — in both cases the signal's recipient owns the order).
var fileFailCodes = map[int64]int64{
	1: FileAbortRootDirMissing,
	2: FileAbortCRCMismatch,
	3: FileAbortConnClosed,
}

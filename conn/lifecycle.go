// Package conn implements spec.md §4.6-§4.11: the per-connection transport
// engine that ties wire, codec, agglom, sendsep, corepump, ioex and
// housekeep together around one net.Conn. Its lifecycle discipline (strict
// forward-only state ranking, an event fired on every transition, listeners
// invoked synchronously unless a delivery router is set, and panics caught)
// is grounded in the
// same shape transport/collect.go's collector and transport/sendmsg.go's
// MsgStream apply to a stream's own termination path (term.done, term.err,
// term.reason, single CAS-guarded transition), generalized from "stream
// termination" to "connection lifecycle with four ranked states".
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package conn

import "fmt"

// State is one of the four ranked lifecycle states (spec.md §4.10).
type State int32

const (
	Unconnected State = iota
	Connected
	Shutdown
	Closed
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "UNCONNECTED"
	case Connected:
		return "CONNECTED"
	case Shutdown:
		return "SHUTDOWN"
	case Closed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// rank enforces "no backsteps" (spec.md §4.10: "ranking is strict").
func (s State) rank() int { return int(s) }

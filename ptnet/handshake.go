// Package ptnet implements spec.md §6's external collaborators: the TCP
// accept loop and client connect dance, reduced to their handshake-byte
// contract, plus the server-side SocketShutdownTask. Everything past the
// handshake (framing, signals, lifecycle) belongs to package conn; this
// package's job ends the moment a net.Conn is handed off as CONNECTED or
// torn down as rejected.
//
// Grounded in the same big-endian/fixed-marker discipline as wire.Parcel
// (itself grounded in other_examples' p2p Parcel framing) applied to a
// six-byte connection marker instead of a per-parcel frame; net.Listener/
// net.Dial themselves have no idiomatic third-party replacement in the
// pack (every example repo drives net.Listener/net.Dial directly for raw
// TCP — see DESIGN.md).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package ptnet

import (
	"errors"
	"io"
	"net"
	"time"
)

// ServerMarker is the fixed byte sequence the server writes first, per
// spec.md §6 ("server writes the magic bytes {0x83, 0x59, 0x4A, 0x4E, 0x00,
// 0x01}").
var ServerMarker = [6]byte{0x83, 0x59, 0x4A, 0x4E, 0x00, 0x01}

// ClientMarker is the client's reciprocal marker (spec.md §6: "client then
// writes the reciprocal marker").
var ClientMarker = [6]byte{0x01, 0x00, 0x4E, 0x4A, 0x59, 0x83}

const (
	acceptCode byte = 1
	rejectCode byte = 0
)

var (
	ErrHandshakeTimeout = errors.New("ptnet: handshake timed out")
	ErrBadMarker        = errors.New("ptnet: handshake marker mismatch")
	ErrRejected         = errors.New("ptnet: peer rejected the connection")
)

func writeDeadline(conn net.Conn, d time.Duration, b []byte) error {
	if d > 0 {
		conn.SetWriteDeadline(time.Now().Add(d))
		defer conn.SetWriteDeadline(time.Time{})
	}
	_, err := conn.Write(b)
	return err
}

func readExact(conn net.Conn, d time.Duration, n int) ([]byte, error) {
	if d > 0 {
		conn.SetReadDeadline(time.Now().Add(d))
		defer conn.SetReadDeadline(time.Time{})
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrHandshakeTimeout
		}
		return nil, err
	}
	return buf, nil
}

// ServerHandshake performs the passive side's half: write ServerMarker,
// then verify the client's reciprocal marker within confirmTimeout/2
// (spec.md §6).
func ServerHandshake(conn net.Conn, confirmTimeout time.Duration) error {
	if err := writeDeadline(conn, confirmTimeout/2, ServerMarker[:]); err != nil {
		return err
	}
	got, err := readExact(conn, confirmTimeout/2, len(ClientMarker))
	if err != nil {
		return err
	}
	for i, b := range ClientMarker {
		if got[i] != b {
			return ErrBadMarker
		}
	}
	return nil
}

// ClientHandshake performs the active side's half: verify the server's
// marker within confirmTimeout/2, then write the reciprocal marker
// (spec.md §6).
func ClientHandshake(conn net.Conn, confirmTimeout time.Duration) error {
	got, err := readExact(conn, confirmTimeout/2, len(ServerMarker))
	if err != nil {
		return err
	}
	for i, b := range ServerMarker {
		if got[i] != b {
			return ErrBadMarker
		}
	}
	return writeDeadline(conn, confirmTimeout/2, ClientMarker[:])
}

// WriteAcceptDecision is called server-side after ServerHandshake succeeds,
// once the application has decided whether to keep the connection (spec.md
// §6: "server waits for an application-level accept or reject decision
// within confirmTimeout, signaled by writing a 1-byte accept code or
// closing the socket").
func WriteAcceptDecision(conn net.Conn, accept bool, confirmTimeout time.Duration) error {
	code := rejectCode
	if accept {
		code = acceptCode
	}
	return writeDeadline(conn, confirmTimeout, []byte{code})
}

// ReadAcceptDecision is called client-side to observe the server's
// accept/reject decision.
func ReadAcceptDecision(conn net.Conn, confirmTimeout time.Duration) error {
	b, err := readExact(conn, confirmTimeout, 1)
	if err != nil {
		return err
	}
	if b[0] != acceptCode {
		return ErrRejected
	}
	return nil
}

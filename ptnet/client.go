package ptnet

import (
	"net"
	"time"
)

// Dial opens a TCP connection and performs the active side of spec.md §6's
// handshake: verify the server marker, write the reciprocal marker, then
// wait for the server's accept/reject decision.
func Dial(network, addr string, confirmTimeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout(network, addr, confirmTimeout)
	if err != nil {
		return nil, err
	}
	if err := ClientHandshake(conn, confirmTimeout); err != nil {
		conn.Close()
		return nil, err
	}
	if err := ReadAcceptDecision(conn, confirmTimeout); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

package ptnet

import (
	"net"
	"time"

	"github.com/nvaistore/partransport/ptlog"
)

// Accepted is returned by Server.Accept after the server-side marker
// exchange has succeeded, before the accept/reject byte is written; the
// caller finishes the handshake with Decide.
type Accepted struct {
	Conn           net.Conn
	ConfirmTimeout time.Duration

	shutdown *shutdownTask
}

// Decide finalizes the handshake: true keeps the connection (writes the
// accept code), false writes the reject code and closes it. It must be
// called at most once, and before ConfirmTimeout elapses — SocketShutdownTask
// enforces that bound by closing the socket out from under a caller who
// never decides (spec.md §4.12).
func (a *Accepted) Decide(accept bool) error {
	a.shutdown.cancel()
	if err := WriteAcceptDecision(a.Conn, accept, a.ConfirmTimeout); err != nil {
		a.Conn.Close()
		return err
	}
	if !accept {
		a.Conn.Close()
	}
	return nil
}

// Server wraps a net.Listener with spec.md §6's handshake dance and the
// SocketShutdownTask that bounds how long an accepted-but-undecided
// connection is allowed to sit open.
type Server struct {
	ln             net.Listener
	confirmTimeout time.Duration
}

func Listen(network, addr string, confirmTimeout time.Duration) (*Server, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	return &Server{ln: ln, confirmTimeout: confirmTimeout}, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }
func (s *Server) Close() error   { return s.ln.Close() }

// Accept blocks for the next inbound connection, performs the server side
// of the marker handshake, and arms a SocketShutdownTask before returning.
// On handshake failure the socket is closed and the loop should call Accept
// again.
func (s *Server) Accept() (*Accepted, error) {
	conn, err := s.ln.Accept()
	if err != nil {
		return nil, err
	}
	if err := ServerHandshake(conn, s.confirmTimeout); err != nil {
		ptlog.Warningf("ptnet: handshake failed from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return nil, err
	}
	a := &Accepted{Conn: conn, ConfirmTimeout: s.confirmTimeout}
	a.shutdown = newShutdownTask(conn, s.confirmTimeout)
	return a, nil
}

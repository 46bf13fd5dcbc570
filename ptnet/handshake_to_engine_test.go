package ptnet_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nvaistore/partransport/codec"
	"github.com/nvaistore/partransport/conn"
	"github.com/nvaistore/partransport/housekeep"
	"github.com/nvaistore/partransport/ioex"
	"github.com/nvaistore/partransport/ptcfg"
	"github.com/nvaistore/partransport/ptnet"
	"github.com/nvaistore/partransport/wire"
)

type greeting struct {
	Text string
}

type recorder struct {
	events chan conn.Event
}

func (r *recorder) OnEvent(ev conn.Event) {
	select {
	case r.events <- ev:
	default:
	}
}
func (r *recorder) OnFileEvent(conn.FileEvent) {}

// TestHandshakeThenEngineRoundTrip exercises the full accept path: a real
// TCP listener, spec.md §6's marker handshake, the server's accept
// decision, and then handing the now-CONNECTED net.Conn off to a
// conn.Engine on each side for an object send/receive round trip.
func TestHandshakeThenEngineRoundTrip(t *testing.T) {
	reg := codec.NewRegistry()
	reg.Prototype(codec.MethodCompact).Register("greeting", greeting{})
	params := ptcfg.Default()
	params.SerialisationMethod = int8(codec.MethodCompact)
	hkreg := housekeep.New()
	go hkreg.Run()
	ioTable := ioex.NewTable()

	srv, err := ptnet.Listen("tcp", "127.0.0.1:0", 2*time.Second)
	require.NoError(t, err)
	defer srv.Close()

	srvEngineCh := make(chan *conn.Engine, 1)
	go func() {
		a, err := srv.Accept()
		require.NoError(t, err)
		require.NoError(t, a.Decide(true))
		e, err := conn.NewEngine(a.Conn, params, reg, ioTable, hkreg)
		require.NoError(t, err)
		srvEngineCh <- e
	}()

	cliConn, err := ptnet.Dial("tcp", srv.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	cliEngine, err := conn.NewEngine(cliConn, params, reg, ioTable, hkreg)
	require.NoError(t, err)

	srvEngine := <-srvEngineCh
	rec := &recorder{events: make(chan conn.Event, 8)}
	srvEngine.Listeners.Add(rec)

	srvEngine.Start()
	cliEngine.Start()

	_, err = cliEngine.SendObject(greeting{Text: "hello over the wire"}, wire.NORMAL)
	require.NoError(t, err)

	var gotObj conn.Event
	require.Eventually(t, func() bool {
		select {
		case ev := <-rec.events:
			if ev.Kind == conn.EvObject {
				gotObj = ev
				return true
			}
		default:
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, greeting{Text: "hello over the wire"}, gotObj.Object)
}

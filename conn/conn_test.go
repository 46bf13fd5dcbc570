package conn_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nvaistore/partransport/codec"
	"github.com/nvaistore/partransport/conn"
	"github.com/nvaistore/partransport/housekeep"
	"github.com/nvaistore/partransport/ioex"
	"github.com/nvaistore/partransport/ptcfg"
	"github.com/nvaistore/partransport/wire"
)

type sample struct {
	Name string
	N    int64
}

type recordingListener struct {
	events chan conn.Event
	files  chan conn.FileEvent
}

func newRecordingListener() *recordingListener {
	return &recordingListener{events: make(chan conn.Event, 16), files: make(chan conn.FileEvent, 16)}
}

func (l *recordingListener) OnEvent(ev conn.Event)         { l.events <- ev }
func (l *recordingListener) OnFileEvent(ev conn.FileEvent) { l.files <- ev }

func newPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srvCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		srvCh <- c
	}()
	cli, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	srv := <-srvCh
	return cli, srv
}

func TestEngineObjectRoundTrip(t *testing.T) {
	cliConn, srvConn := newPair(t)
	defer cliConn.Close()
	defer srvConn.Close()

	reg := codec.NewRegistry()
	reg.Prototype(codec.MethodCompact).Register("sample", sample{})

	params := ptcfg.Default()
	params.SerialisationMethod = int8(codec.MethodCompact)
	hkreg := housekeep.New()
	go hkreg.Run()
	ioTable := ioex.NewTable()

	cliEngine, err := conn.NewEngine(cliConn, params, reg, ioTable, hkreg)
	require.NoError(t, err)
	srvEngine, err := conn.NewEngine(srvConn, params, reg, ioTable, hkreg)
	require.NoError(t, err)

	srvListener := newRecordingListener()
	srvEngine.Listeners.Add(srvListener)
	cliListener := newRecordingListener()
	cliEngine.Listeners.Add(cliListener)

	srvEngine.Start()
	cliEngine.Start()

	_, err = cliEngine.SendObject(sample{Name: "hi", N: 7}, wire.NORMAL)
	require.NoError(t, err)

	var gotObj conn.Event
	require.Eventually(t, func() bool {
		select {
		case ev := <-srvListener.events:
			if ev.Kind == conn.EvObject {
				gotObj = ev
				return true
			}
		default:
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, sample{Name: "hi", N: 7}, gotObj.Object)
}

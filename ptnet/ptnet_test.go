package ptnet_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nvaistore/partransport/ptnet"
)

func TestHandshakeAccept(t *testing.T) {
	srv, err := ptnet.Listen("tcp", "127.0.0.1:0", 2*time.Second)
	require.NoError(t, err)
	defer srv.Close()

	done := make(chan error, 1)
	go func() {
		a, err := srv.Accept()
		if err != nil {
			done <- err
			return
		}
		done <- a.Decide(true)
	}()

	conn, err := ptnet.Dial("tcp", srv.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, <-done)
}

func TestHandshakeReject(t *testing.T) {
	srv, err := ptnet.Listen("tcp", "127.0.0.1:0", 2*time.Second)
	require.NoError(t, err)
	defer srv.Close()

	go func() {
		a, err := srv.Accept()
		if err != nil {
			return
		}
		a.Decide(false)
	}()

	_, err = ptnet.Dial("tcp", srv.Addr().String(), 2*time.Second)
	require.ErrorIs(t, err, ptnet.ErrRejected)
}

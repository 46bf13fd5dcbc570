package sendsep_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvaistore/partransport/ioex"
	"github.com/nvaistore/partransport/sendsep"
	"github.com/nvaistore/partransport/wire"
)

func TestSendFileOrderValidation(t *testing.T) {
	_, err := sendsep.NewSendFileOrder(1, "/tmp/x", "", wire.NORMAL, 0)
	require.ErrorIs(t, err, sendsep.ErrEmptyRemotePath)

	_, err = sendsep.NewSendFileOrder(1, "/tmp/x", "dest", wire.NORMAL, -1)
	require.ErrorIs(t, err, sendsep.ErrNegativeTransaction)
}

func TestSendFileOrderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	data := make([]byte, 30)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(src, data, 0o644))

	order, err := sendsep.NewSendFileOrder(1, src, "dest.bin", wire.HIGH, 5)
	require.NoError(t, err)

	table := ioex.NewTable()
	require.NoError(t, order.StartSending(table, 10))
	require.Equal(t, int64(30), order.FileLength)
	require.Equal(t, int64(3), order.ParcelCount)

	var got []byte
	for {
		p, err, eof := order.NextParcel(10)
		require.NoError(t, err)
		if eof {
			break
		}
		got = append(got, p.Payload...)
	}
	require.Equal(t, data, got)
	require.True(t, order.IsLastParcel())
	order.Close()
}

func TestSendFileOrderDeniedWhileWriting(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	table := ioex.NewTable()
	release, ok := table.Acquire(src, ioex.INCOMING)
	require.True(t, ok)
	defer release()

	order, err := sendsep.NewSendFileOrder(2, src, "dest.bin", wire.NORMAL, 0)
	require.NoError(t, err)
	err = order.StartSending(table, 10)
	require.ErrorIs(t, err, ioex.ErrFileInTransmission)
}

package wire_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvaistore/partransport/wire"
)

func TestParcelRoundTripSignal(t *testing.T) {
	p := &wire.Parcel{
		Channel:    wire.SIGNAL,
		Priority:   wire.TOP,
		ObjectID:   0,
		SequenceNr: 7, // any sequence number round-trips on a SIGNAL parcel
		Payload:    []byte{0, 0, 0, 5},
	}
	var buf bytes.Buffer
	require.NoError(t, p.Write(&buf))

	got, err := wire.Read(&buf)
	require.NoError(t, err)
	require.Equal(t, p.Channel, got.Channel)
	require.Equal(t, p.Priority, got.Priority)
	require.Equal(t, p.SequenceNr, got.SequenceNr)
	require.Equal(t, p.Payload, got.Payload)
	require.Nil(t, got.Ext)
}

func TestParcelRoundTripObjectWithExtHeader(t *testing.T) {
	p := &wire.Parcel{
		Channel:    wire.OBJECT,
		Priority:   wire.NORMAL,
		ObjectID:   42,
		SequenceNr: 0,
		Payload:    []byte("hello parcel"),
		Ext: &wire.ExtHeader{
			CodecMethod:      1,
			Priority:         int8(wire.NORMAL),
			TransmissionSize: 1024,
			ParcelCount:      3,
			ObjectCRC32:      0xdeadbeef,
			Path:             "dest/path.bin",
		},
	}
	var buf bytes.Buffer
	require.NoError(t, p.Write(&buf))
	require.Equal(t, p.Len(), buf.Len())

	got, err := wire.Read(&buf)
	require.NoError(t, err)
	require.Equal(t, p.ObjectID, got.ObjectID)
	require.NotNil(t, got.Ext)
	require.Equal(t, p.Ext.Path, got.Ext.Path)
	require.Equal(t, p.Ext.ParcelCount, got.Ext.ParcelCount)
	require.Equal(t, p.Ext.ObjectCRC32, got.Ext.ObjectCRC32)
}

func TestParcelBadMagic(t *testing.T) {
	buf := bytes.NewBuffer(make([]byte, 40))
	_, err := wire.Read(buf)
	require.Error(t, err)
	var bp *wire.BadParcel
	require.ErrorAs(t, err, &bp)
}

func TestParcelCRCMismatch(t *testing.T) {
	p := &wire.Parcel{Channel: wire.SIGNAL, SequenceNr: 1, Payload: []byte("x")}
	var buf bytes.Buffer
	require.NoError(t, p.Write(&buf))
	b := buf.Bytes()
	b[len(b)-1] ^= 0xFF // corrupt last payload byte after CRC was computed
	_, err := wire.Read(bytes.NewReader(b))
	require.Error(t, err)
}

func TestParcelExtHeaderSoundness(t *testing.T) {
	p := &wire.Parcel{
		Channel:    wire.FILE,
		ObjectID:   1,
		SequenceNr: 0,
		Ext: &wire.ExtHeader{
			CodecMethod: 0,
			ParcelCount: 0, // invalid: must be >= 1
		},
	}
	var buf bytes.Buffer
	require.NoError(t, p.Write(&buf))
	_, err := wire.Read(&buf)
	require.Error(t, err)
}

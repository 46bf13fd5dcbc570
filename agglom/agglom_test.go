package agglom_test

import (
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvaistore/partransport/agglom"
	"github.com/nvaistore/partransport/codec"
	"github.com/nvaistore/partransport/wire"
)

func TestObjectAgglomeratorRoundTrip(t *testing.T) {
	c := codec.NewCompactCodec()
	c.Register("x", struct{ A int64 }{})
	payload, err := c.Serialize(struct{ A int64 }{A: 99})
	require.NoError(t, err)

	ext := &wire.ExtHeader{
		CodecMethod:      int8(codec.MethodCompact),
		TransmissionSize: int64(len(payload)),
		ParcelCount:      2,
		ObjectCRC32:      crc32.ChecksumIEEE(payload),
	}
	agg, err := agglom.NewObjectAgglomerator(1, ext, 1<<20)
	require.NoError(t, err)

	half := len(payload) / 2
	require.NoError(t, agg.Digest(&wire.Parcel{SequenceNr: 0, Payload: payload[:half]}))
	require.False(t, agg.Complete())
	require.NoError(t, agg.Digest(&wire.Parcel{SequenceNr: 1, Payload: payload[half:]}))
	require.True(t, agg.Complete())

	out, err := agg.Decode(c)
	require.NoError(t, err)
	require.Equal(t, struct{ A int64 }{A: 99}, out)
}

func TestObjectAgglomeratorOutOfOrder(t *testing.T) {
	ext := &wire.ExtHeader{ParcelCount: 2, TransmissionSize: 4}
	agg, err := agglom.NewObjectAgglomerator(1, ext, 1<<20)
	require.NoError(t, err)
	err = agg.Digest(&wire.Parcel{SequenceNr: 1, Payload: []byte("x")})
	require.ErrorIs(t, err, agglom.ErrOutOfOrder)
}

func TestObjectAgglomeratorOversized(t *testing.T) {
	ext := &wire.ExtHeader{ParcelCount: 1, TransmissionSize: 1000}
	_, err := agglom.NewObjectAgglomerator(1, ext, 100)
	require.ErrorIs(t, err, agglom.ErrOversized)
}

func TestFileAgglomeratorRoundTrip(t *testing.T) {
	root := t.TempDir()
	data := []byte("the quick brown fox jumps over the lazy dog")
	ext := &wire.ExtHeader{
		Path:             "sub/dest.bin",
		TransmissionSize: int64(len(data)),
		ParcelCount:      2,
		ObjectCRC32:      crc32.ChecksumIEEE(data),
	}
	agg, err := agglom.NewFileAgglomerator(root, 7, ext)
	require.NoError(t, err)

	mid := len(data) / 2
	require.NoError(t, agg.Digest(&wire.Parcel{SequenceNr: 0, Payload: data[:mid]}))
	require.NoError(t, agg.Digest(&wire.Parcel{SequenceNr: 1, Payload: data[mid:]}))
	require.True(t, agg.Complete())

	dest, err := agg.Finish()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "sub/dest.bin"), dest)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFileAgglomeratorNoRootDir(t *testing.T) {
	_, err := agglom.NewFileAgglomerator("", 1, &wire.ExtHeader{})
	require.ErrorIs(t, err, agglom.ErrNoRootDir)
}

func TestFileAgglomeratorAbortRemovesTemp(t *testing.T) {
	root := t.TempDir()
	agg, err := agglom.NewFileAgglomerator(root, 1, &wire.ExtHeader{Path: "f", ParcelCount: 1})
	require.NoError(t, err)
	agg.Abort()
	entries, _ := os.ReadDir(root)
	require.Empty(t, entries)
}

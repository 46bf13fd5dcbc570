package codec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvaistore/partransport/codec"
)

type sample struct {
	Name  string
	Count int64
	Tags  []string
}

func TestReflectiveRoundTrip(t *testing.T) {
	c := codec.NewReflectiveCodec()
	require.True(t, c.Register("sample", sample{}))
	require.False(t, c.Register("sample", sample{}))

	in := sample{Name: "widget", Count: 7, Tags: []string{"a", "b"}}
	b, err := c.Serialize(in)
	require.NoError(t, err)

	out, err := c.Deserialize(b)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestCompactRoundTrip(t *testing.T) {
	c := codec.NewCompactCodec()
	require.True(t, c.Register("sample", sample{}))

	in := sample{Name: "widget", Count: 7, Tags: []string{"a", "b", "c"}}
	b, err := c.Serialize(in)
	require.NoError(t, err)

	out, err := c.Deserialize(b)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestUnregisteredSerializeFails(t *testing.T) {
	c := codec.NewCompactCodec()
	_, err := c.Serialize(sample{})
	require.ErrorIs(t, err, codec.ErrUnregistered)
}

func TestRegistryCloneIsIndependent(t *testing.T) {
	reg := codec.NewRegistry()
	proto := reg.Prototype(codec.MethodCompact)
	require.True(t, proto.Register("sample", sample{}))

	slots, ok := reg.NewSlots(codec.MethodCompact)
	require.True(t, ok)
	// the clone starts with the prototype's registrations, and a class
	// registered in the clone afterwards is not visible in the prototype.
	require.True(t, slots.Send.IsRegistered("sample"))
	require.True(t, slots.Send.Register("other", struct{ X int64 }{}))
	require.False(t, proto.IsRegistered("other"))
}

func TestUnavailableMethod(t *testing.T) {
	reg := codec.NewRegistry()
	_, ok := reg.NewSlots(codec.MethodCustom)
	require.False(t, ok)
}

package rpc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h2rpc/grpcore/rpc"
)

func TestRegistryGetByLowercasedName(t *testing.T) {
	r := rpc.NewRegistry(rpc.BinaryCodec("Proto"))
	require.NotNil(t, r.Get("proto"))
	require.NotNil(t, r.Get("Proto"))
	require.Nil(t, r.Get("json"))
}

func TestStreamingTypeArity(t *testing.T) {
	require.True(t, rpc.NonStreaming.ExpectsSingleRequest())
	require.True(t, rpc.NonStreaming.ExpectsSingleResponse())
	require.True(t, rpc.ClientStreaming.ExpectsSingleResponse())
	require.False(t, rpc.ClientStreaming.ExpectsSingleRequest())
	require.True(t, rpc.ServerStreaming.ExpectsSingleRequest())
	require.False(t, rpc.ServerStreaming.ExpectsSingleResponse())
	require.False(t, rpc.BiDiStreaming.ExpectsSingleRequest())
	require.False(t, rpc.BiDiStreaming.ExpectsSingleResponse())
}

func TestStreamingTypeMirror(t *testing.T) {
	require.Equal(t, rpc.NonStreaming, rpc.NonStreaming.Mirror())
	require.Equal(t, rpc.BiDiStreaming, rpc.BiDiStreaming.Mirror())
	require.Equal(t, rpc.ServerStreaming, rpc.ClientStreaming.Mirror())
	require.Equal(t, rpc.ClientStreaming, rpc.ServerStreaming.Mirror())
}

func TestBinaryCodecRoundTrips(t *testing.T) {
	c := rpc.BinaryCodec("proto")
	data, err := c.Marshal([]byte("payload"))
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)

	var out []byte
	require.NoError(t, c.Unmarshal(data, &out))
	require.Equal(t, []byte("payload"), out)
}

func TestBinaryRpcDescriptor(t *testing.T) {
	d := rpc.BinaryRpc("pkg.Service/Method", rpc.BiDiStreaming)
	require.Equal(t, "pkg.Service/Method", d.Name)
	require.Equal(t, rpc.BiDiStreaming, d.StreamingType)
	require.Equal(t, "proto", d.Codec.Name())
}

package framing_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h2rpc/grpcore/framing"
	"github.com/h2rpc/grpcore/status"
)

func TestBuildThenReadRoundTrips(t *testing.T) {
	f := framing.Frame{Flags: framing.CompressedFlag, Payload: []byte("hello world")}
	wire, err := framing.Build(f)
	require.NoError(t, err)

	got, err := framing.Read(bytes.NewReader(wire), 0)
	require.NoError(t, err)
	require.Equal(t, f.Flags, got.Flags)
	require.Equal(t, f.Payload, got.Payload)
	require.True(t, got.Compressed())
}

func TestWriteToMatchesBuild(t *testing.T) {
	f := framing.Frame{Flags: 0, Payload: []byte("abc")}
	built, err := framing.Build(f)
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := framing.WriteTo(&buf, f)
	require.NoError(t, err)
	require.Equal(t, int64(len(built)), n)
	require.Equal(t, built, buf.Bytes())
}

func TestReadRejectsOversizeMessage(t *testing.T) {
	f := framing.Frame{Payload: make([]byte, 1024)}
	wire, err := framing.Build(f)
	require.NoError(t, err)

	_, err = framing.Read(bytes.NewReader(wire), 16)
	require.Error(t, err)
	var ge *status.GrpcException
	require.ErrorAs(t, err, &ge)
	require.Equal(t, status.ResourceExhausted, ge.Code())
}

func TestReadRejectsIncompletePayload(t *testing.T) {
	f := framing.Frame{Payload: []byte("0123456789")}
	wire, err := framing.Build(f)
	require.NoError(t, err)

	_, err = framing.Read(bytes.NewReader(wire[:len(wire)-3]), 0)
	require.Error(t, err)
}

func TestRequireCompressionSupport(t *testing.T) {
	compressed := framing.Frame{Flags: framing.CompressedFlag}
	require.Error(t, framing.RequireCompressionSupport(compressed, false))
	require.NoError(t, framing.RequireCompressionSupport(compressed, true))

	plain := framing.Frame{}
	require.NoError(t, framing.RequireCompressionSupport(plain, false))
}

package status_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h2rpc/grpcore/status"
)

func TestCodeRoundTrip(t *testing.T) {
	for wire := int32(0); wire <= 16; wire++ {
		c, ok := status.ToCode(wire)
		require.True(t, ok, "wire %d should decode", wire)
		require.Equal(t, wire, status.FromCode(c))
	}
}

func TestCodeOutOfRange(t *testing.T) {
	for _, wire := range []int32{-1, 17, 1000} {
		_, ok := status.ToCode(wire)
		require.False(t, ok, "wire %d should not decode", wire)
	}
}

func TestGrpcExceptionRoundTripsCodeAndMessage(t *testing.T) {
	ex := status.New(status.NotFound, "widget missing")
	require.Equal(t, status.NotFound, ex.Code())
	require.Equal(t, "widget missing", ex.Message())

	proto := ex.Proto()
	back := status.FromProto(proto)
	require.Equal(t, ex.Code(), back.Code())
	require.Equal(t, ex.Message(), back.Message())
}

func TestFromErrorPreservesExistingException(t *testing.T) {
	original := status.New(status.PermissionDenied, "nope")
	require.Same(t, original, status.FromError(original))
}

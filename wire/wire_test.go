package wire_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h2rpc/grpcore/status"
	"github.com/h2rpc/grpcore/wire"
)

func TestContentTypeRoundTrip(t *testing.T) {
	require.Equal(t, "application/grpc", wire.ContentTypeForCodec("proto"))
	require.Equal(t, "application/grpc+json", wire.ContentTypeForCodec("json"))

	name, ok := wire.CodecNameFromContentType("application/grpc")
	require.True(t, ok)
	require.Equal(t, "proto", name)

	name, ok = wire.CodecNameFromContentType("application/grpc+json")
	require.True(t, ok)
	require.Equal(t, "json", name)

	_, ok = wire.CodecNameFromContentType("text/plain")
	require.False(t, ok)
}

func TestParseCallParamsWithTimeout(t *testing.T) {
	h := wire.ParseRequestHeaders(http.Header{"Grpc-Timeout": []string{"10S"}, "Grpc-Encoding": []string{"gzip"}})
	params, err := wire.ParseCallParams(h)
	require.NoError(t, err)
	require.True(t, params.HasTimeout)
	require.Equal(t, int64(10_000_000), params.Timeout.Micros())
	require.EqualValues(t, "gzip", params.RequestEncoding)
}

func TestParseCallParamsWithoutTimeoutHeader(t *testing.T) {
	h := wire.ParseRequestHeaders(http.Header{})
	params, err := wire.ParseCallParams(h)
	require.NoError(t, err)
	require.False(t, params.HasTimeout)
}

func TestParseCallParamsRejectsMalformedTimeout(t *testing.T) {
	h := wire.ParseRequestHeaders(http.Header{"Grpc-Timeout": []string{"abcQ"}})
	_, err := wire.ParseCallParams(h)
	require.Error(t, err)
}

func TestTrailersOnlyCarriesStatus(t *testing.T) {
	ex := status.New(status.NotFound, "missing")
	h, err := wire.TrailersOnly(wire.ResponseHeaders{ContentType: "application/grpc"}, ex, nil)
	require.NoError(t, err)
	require.Equal(t, "application/grpc", h.Get(wire.HeaderContentType))
	parsed, err := wire.ParseTrailers(h)
	require.NoError(t, err)
	require.NotNil(t, parsed)
	require.Equal(t, status.NotFound, parsed.Code())
	require.Equal(t, "missing", parsed.Message())
}

func TestTrailersOnlyRejectsReservedCustomPrefix(t *testing.T) {
	custom := http.Header{"Grpc-Bogus": []string{"x"}}
	_, err := wire.TrailersOnly(wire.ResponseHeaders{ContentType: "application/grpc"}, nil, custom)
	require.Error(t, err)
}

func TestParseTrailersOK(t *testing.T) {
	h, err := wire.ProperTrailers{Status: nil}.Build()
	require.NoError(t, err)
	parsed, err := wire.ParseTrailers(h)
	require.NoError(t, err)
	require.Nil(t, parsed)
}

func TestCustomTrailerMetadataStripsReservedHeaders(t *testing.T) {
	ex := status.New(status.NotFound, "missing")
	h, err := wire.ProperTrailers{Status: ex, Custom: http.Header{"X-App-Id": []string{"42"}}}.Build()
	require.NoError(t, err)
	custom := wire.CustomTrailerMetadata(h)
	require.Equal(t, []string{"42"}, custom["X-App-Id"])
	require.Empty(t, custom.Get(wire.HeaderGrpcStatus))
	require.Empty(t, custom.Get(wire.HeaderGrpcMessage))
}

func TestPercentEncodeRoundTrip(t *testing.T) {
	msg := "hello \x01\x02 world % 100%"
	encoded := wire.PercentEncode(msg)
	decoded, err := wire.PercentDecode(encoded)
	require.NoError(t, err)
	require.Equal(t, msg, decoded)
}

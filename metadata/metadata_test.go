package metadata_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h2rpc/grpcore/metadata"
)

func TestHeaderNameRejectsReservedPrefix(t *testing.T) {
	_, _, err := metadata.NewHeaderName("grpc-timeout")
	require.Error(t, err)
	_, _, err = metadata.NewHeaderName("Grpc-Custom")
	require.Error(t, err)
}

func TestHeaderNameStripsBinSuffix(t *testing.T) {
	name, binary, err := metadata.NewHeaderName("trace-id-bin")
	require.NoError(t, err)
	require.True(t, binary)
	require.Equal(t, metadata.HeaderName("trace-id"), name)
	require.Equal(t, "trace-id-bin", name.WireName(true))
}

func TestBinaryRoundTripAcceptsPaddedAndUnpadded(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef, 0x01}
	unpadded := metadata.EncodeBinary(data)
	decoded, err := metadata.DecodeBinary(unpadded)
	require.NoError(t, err)
	require.Equal(t, data, decoded)

	// Padded form of the same bytes (standard, not raw, base64) must also decode.
	padded := "3q2+7wE="
	decodedPadded, err := metadata.DecodeBinary(padded)
	require.NoError(t, err)
	require.Equal(t, data, decodedPadded)
}

func TestAsciiHeaderRejectsControlBytes(t *testing.T) {
	name, _, _ := metadata.NewHeaderName("x-custom")
	_, err := metadata.AsciiHeader(name, "line1\r\nline2")
	require.Error(t, err)

	h, err := metadata.AsciiHeader(name, "normal-value")
	require.NoError(t, err)
	require.Equal(t, "normal-value", h.WireValue())
}

func TestValidateCustomRejectsReservedPrefix(t *testing.T) {
	require.NoError(t, metadata.ValidateCustom(http.Header{"X-App-Id": []string{"1"}}))
	require.Error(t, metadata.ValidateCustom(http.Header{"Grpc-Sneaky": []string{"1"}}))
}

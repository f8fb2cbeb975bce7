package duplex

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h2rpc/grpcore/status"
)

func TestCallWritesRequestBodyAndReadsResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, "ping", string(body))
		w.Write([]byte("pong"))
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	call := New(context.Background(), server.Client(), u, http.Header{})
	_, err = call.Write([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, call.CloseWrite())

	code, err := call.ResponseStatusCode()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, code)

	data, err := io.ReadAll(call)
	require.NoError(t, err)
	require.Equal(t, "pong", string(data))
}

func TestCallSurfacesTransportErrorAsUnavailable(t *testing.T) {
	u, err := url.Parse("http://127.0.0.1:1")
	require.NoError(t, err)
	call := New(context.Background(), http.DefaultClient, u, http.Header{})
	require.NoError(t, call.CloseWrite())
	_, err = call.ResponseStatusCode()
	require.Error(t, err)
	require.Equal(t, status.Unavailable, status.FromError(err).Code())
}

package xh2c_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/h2rpc/grpcore/internal/xh2c"
)

func TestNewServerWrapsHandler(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	srv := xh2c.NewServer(handler, xh2c.Options{
		MaxConcurrentStreams: 100,
		ReadTimeout:          time.Second,
	})
	require.NotNil(t, srv.Handler)
	require.Equal(t, time.Second, srv.ReadTimeout)

	rec := &testResponseWriter{header: make(http.Header)}
	req, err := http.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, err)
	srv.Handler.ServeHTTP(rec, req)
	require.True(t, called)
}

type testResponseWriter struct {
	header http.Header
	status int
}

func (w *testResponseWriter) Header() http.Header         { return w.header }
func (w *testResponseWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *testResponseWriter) WriteHeader(status int)      { w.status = status }

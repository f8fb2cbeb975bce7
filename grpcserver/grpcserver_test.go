package grpcserver

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/h2rpc/grpcore/compress"
	"github.com/h2rpc/grpcore/framing"
	"github.com/h2rpc/grpcore/rpc"
	"github.com/h2rpc/grpcore/status"
	"github.com/h2rpc/grpcore/wire"
)

func echoMethod(streaming rpc.StreamingType, handler HandlerFunc) Method {
	return Method{
		Descriptor: rpc.BinaryRpc("/test.Echo/Call", streaming),
		Handler:    handler,
	}
}

func newReader(body []byte) *bytes.Reader {
	return bytes.NewReader(body)
}

func encodeFrame(payload []byte) ([]byte, error) {
	return framing.Build(framing.Frame{Payload: payload})
}

func decodeFrame(data []byte) ([]byte, error) {
	f, err := framing.Read(bytes.NewReader(data), 0)
	if err != nil {
		return nil, err
	}
	return f.Payload, nil
}

func decodeFrameAndRest(data []byte) (payload []byte, rest []byte, err error) {
	r := bytes.NewReader(data)
	f, err := framing.Read(r, 0)
	if err != nil {
		return nil, nil, err
	}
	rest = data[len(data)-r.Len():]
	return f.Payload, rest, nil
}

func TestServeHTTPRejectsWrongMethod(t *testing.T) {
	srv := NewServer(nil)
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/test.Echo/Call", nil)
	srv.ServeHTTP(w, r)
	require.Equal(t, 405, w.Code)
	require.Equal(t, "POST", w.Header().Get("Allow"))
}

func TestServeHTTPRejectsUnknownPath(t *testing.T) {
	srv := NewServer(nil)
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/no.Such/Method", nil)
	r.Header.Set(wire.HeaderContentType, "application/grpc")
	srv.ServeHTTP(w, r)

	require.Equal(t, 200, w.Code)
	trailerStatus := w.Result().Trailer.Get(wire.HeaderGrpcStatus)
	if trailerStatus == "" {
		trailerStatus = w.Header().Get(wire.HeaderGrpcStatus)
	}
	require.Equal(t, strconv.Itoa(int(status.FromCode(status.Unimplemented))), trailerStatus)
}

func TestServeHTTPRejectsMalformedPath(t *testing.T) {
	srv := NewServer(nil)
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/onlyOneSegment", nil)
	srv.ServeHTTP(w, r)
	require.Equal(t, 400, w.Code)
}

func TestServeHTTPRejectsUnsupportedContentType(t *testing.T) {
	srv := NewServer([]Method{echoMethod(rpc.NonStreaming, func(ctx context.Context, conn *Conn) error { return nil })})
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/test.Echo/Call", nil)
	r.Header.Set(wire.HeaderContentType, "application/json")
	srv.ServeHTTP(w, r)
	require.Equal(t, 415, w.Code)
	require.NotEmpty(t, w.Header().Get("Accept-Post"))
}

func TestServeHTTPUnaryHappyPath(t *testing.T) {
	srv := NewServer([]Method{echoMethod(rpc.NonStreaming, func(ctx context.Context, conn *Conn) error {
		var req []byte
		if err := conn.Receive(&req); err != nil {
			return err
		}
		reply := append([]byte{}, req...)
		reply = append(reply, "-pong"...)
		return conn.Send(&reply)
	})})

	w := httptest.NewRecorder()
	body, err := encodeFrame([]byte("ping"))
	require.NoError(t, err)
	r := httptest.NewRequest("POST", "/test.Echo/Call", newReader(body))
	r.Header.Set(wire.HeaderContentType, "application/grpc")
	r.Header.Set(wire.HeaderTE, "trailers")

	srv.ServeHTTP(w, r)

	require.Equal(t, 200, w.Code)
	require.Equal(t, "application/grpc", w.Header().Get(wire.HeaderContentType))

	reply, err := decodeFrame(w.Body.Bytes())
	require.NoError(t, err)
	require.Equal(t, "ping-pong", string(reply))

	trailerStatus := w.Result().Trailer.Get(wire.HeaderGrpcStatus)
	if trailerStatus == "" {
		trailerStatus = w.Header().Get(wire.HeaderGrpcStatus)
	}
	require.Equal(t, strconv.Itoa(int(status.FromCode(status.OK))), trailerStatus)
}

func TestServeHTTPHandlerErrorCarriesStatusInTrailers(t *testing.T) {
	srv := NewServer([]Method{echoMethod(rpc.NonStreaming, func(ctx context.Context, conn *Conn) error {
		return status.New(status.NotFound, "no such thing")
	})})

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/test.Echo/Call", newReader(nil))
	r.Header.Set(wire.HeaderContentType, "application/grpc")

	srv.ServeHTTP(w, r)

	require.Equal(t, 200, w.Code)
	trailer := w.Result().Trailer
	require.Equal(t, strconv.Itoa(int(status.FromCode(status.NotFound))), trailer.Get(wire.HeaderGrpcStatus))
	require.Equal(t, "no such thing", trailer.Get(wire.HeaderGrpcMessage))
	require.Empty(t, w.Body.Bytes())
}

func TestServeHTTPServerStreamingSendsManyMessages(t *testing.T) {
	srv := NewServer([]Method{echoMethod(rpc.ServerStreaming, func(ctx context.Context, conn *Conn) error {
		var req []byte
		if err := conn.Receive(&req); err != nil {
			return err
		}
		for i := 0; i < 3; i++ {
			msg := append([]byte{}, req...)
			if err := conn.Send(&msg); err != nil {
				return err
			}
		}
		return nil
	})})

	w := httptest.NewRecorder()
	body, err := encodeFrame([]byte("x"))
	require.NoError(t, err)
	r := httptest.NewRequest("POST", "/test.Echo/Call", newReader(body))
	r.Header.Set(wire.HeaderContentType, "application/grpc")

	srv.ServeHTTP(w, r)

	require.Equal(t, 200, w.Code)
	remaining := w.Body.Bytes()
	count := 0
	for len(remaining) > 0 {
		var msg []byte
		msg, remaining, err = decodeFrameAndRest(remaining)
		require.NoError(t, err)
		require.Equal(t, "x", string(msg))
		count++
	}
	require.Equal(t, 3, count)
}

func TestServeHTTPNegotiatesCompression(t *testing.T) {
	srv := NewServer(
		[]Method{echoMethod(rpc.NonStreaming, func(ctx context.Context, conn *Conn) error {
			var req []byte
			if err := conn.Receive(&req); err != nil {
				return err
			}
			return conn.Send(&req)
		})},
		WithCompression(compress.ChooseFirst(compress.DefaultRegistry(), []compress.CompressionId{compress.Gzip})),
	)

	w := httptest.NewRecorder()
	body, err := encodeFrame([]byte("compressed-round-trip"))
	require.NoError(t, err)
	r := httptest.NewRequest("POST", "/test.Echo/Call", newReader(body))
	r.Header.Set(wire.HeaderContentType, "application/grpc")
	r.Header.Set(wire.HeaderGrpcAccept, "gzip")

	srv.ServeHTTP(w, r)

	require.Equal(t, "gzip", w.Header().Get(wire.HeaderGrpcEncoding))
}

func TestShutdownCancelsInFlightCalls(t *testing.T) {
	handlerStarted := make(chan struct{})
	srv := NewServer([]Method{echoMethod(rpc.NonStreaming, func(ctx context.Context, conn *Conn) error {
		close(handlerStarted)
		<-ctx.Done()
		return status.New(status.Canceled, "canceled by shutdown")
	})})

	w := httptest.NewRecorder()
	body, err := encodeFrame([]byte("x"))
	require.NoError(t, err)
	r := httptest.NewRequest("POST", "/test.Echo/Call", newReader(body))
	r.Header.Set(wire.HeaderContentType, "application/grpc")

	servedDone := make(chan struct{})
	go func() {
		srv.ServeHTTP(w, r)
		close(servedDone)
	}()

	<-handlerStarted
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	shutdownErr := srv.Shutdown(ctx)
	require.Error(t, shutdownErr)

	select {
	case <-servedDone:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeHTTP did not return after Shutdown")
	}
}

package grpcserver

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/h2rpc/grpcore/call"
	"github.com/h2rpc/grpcore/compress"
	"github.com/h2rpc/grpcore/framing"
	"github.com/h2rpc/grpcore/rpc"
	"github.com/h2rpc/grpcore/status"
	"github.com/h2rpc/grpcore/streamelem"
	"github.com/h2rpc/grpcore/wire"
)

// Conn is the server-side handle a Method's HandlerFunc drives: Send/Receive
// move messages, ResponseHeader/ResponseTrailer let the handler attach
// custom metadata, and the Server applies the terminal grpc-status once the
// handler returns. Grounded on the teacher's protocol/grpc/handler.go
// (grpcHandlerConn), adapted around the call package's explicit state
// machine instead of the teacher's single wroteToBody bool plus net/http's
// implicit WriteHeader-on-first-write behavior for the arity checks (the
// wroteToBody flag itself is kept; it records that the response headers
// have been set, so they are set only once).
type Conn struct {
	w http.ResponseWriter
	r *http.Request

	codecName    string
	codec        rpc.Codec
	reqCompress  compress.Compression
	respCompress compress.Compression
	negotiation  compress.Negotation

	state *call.Call

	sendMaxBytes int
	recvMaxBytes int

	respHeader  http.Header
	respTrailer http.Header

	wroteToBody bool

	log *zap.Logger
}

// RequestHeader returns the inbound request's HTTP headers, including any
// custom metadata beyond the fixed gRPC ones.
func (c *Conn) RequestHeader() http.Header {
	return c.r.Header
}

// ResponseHeader returns the header set the handler may add custom entries
// to before its first Send; entries added after that point are ignored,
// since the HEADERS frame will already have gone out.
func (c *Conn) ResponseHeader() http.Header {
	return c.respHeader
}

// ResponseTrailer returns the trailer set the handler may add custom
// entries to at any point before returning.
func (c *Conn) ResponseTrailer() http.Header {
	return c.respTrailer
}

// Send marshals, optionally compresses, and frames msg onto the response
// body, flushing it so server-streaming calls don't wait behind Go's
// default buffering.
func (c *Conn) Send(msg any) error {
	if err := c.state.BeginSend(); err != nil {
		return err
	}
	data, err := c.codec.Marshal(msg)
	if err != nil {
		return status.Newf(status.Internal, "grpcserver: failed to marshal response: %v", err)
	}
	frame := framing.Frame{Payload: data}
	if c.respCompress.ID != compress.Identity {
		compressed, err := c.respCompress.Compress(data)
		if err != nil {
			return status.Newf(status.Internal, "grpcserver: failed to compress response: %v", err)
		}
		frame = framing.Frame{Flags: framing.CompressedFlag, Payload: compressed}
	}
	if c.sendMaxBytes > 0 && len(frame.Payload) > c.sendMaxBytes {
		return status.Newf(status.ResourceExhausted, "grpcserver: message of %d bytes exceeds sendMaxBytes %d", len(frame.Payload), c.sendMaxBytes)
	}
	if err := c.ensureHeadersWritten(); err != nil {
		return err
	}
	if _, err := framing.WriteTo(c.w, frame); err != nil {
		return status.Newf(status.Unavailable, "grpcserver: failed to write response frame: %v", err)
	}
	if flusher, ok := c.w.(http.Flusher); ok {
		flusher.Flush()
	}
	c.state.FinishSend()
	return nil
}

// Receive reads, decompresses, and unmarshals the next request message.
// io.EOF signals a clean half-close of the request body (the client called
// CloseSend); callers should treat it as "no more requests", not an error.
// It is a thin wrapper over ReceiveElem, which is the real runtime
// representation spec.md §4.6 describes.
func (c *Conn) Receive(msg any) error {
	elem, err := c.ReceiveElem(msg)
	if err != nil {
		return err
	}
	if elem.Kind() == streamelem.KindNoMoreElems {
		return io.EOF
	}
	return nil
}

// ReceiveElem is Receive's underlying primitive: it reports not just the
// message but which kind of element was observed (a plain Elem, the
// FinalElem that half-closes the receive side, or NoMoreElems once nothing
// further will ever arrive), mirroring the streamelem model the wire
// protocol is built around.
func (c *Conn) ReceiveElem(msg any) (streamelem.StreamElem[any], error) {
	replay, err := c.state.BeginRecv()
	if err != nil {
		return streamelem.StreamElem[any]{}, err
	}
	if replay {
		return streamelem.NoMoreElems[any](streamelem.Metadata{}), nil
	}
	frame, err := framing.Read(c.r.Body, c.recvMaxBytes)
	if err != nil {
		if errors.Is(err, io.EOF) {
			c.state.FinishRecv(true)
			return streamelem.NoMoreElems[any](streamelem.Metadata{}), nil
		}
		var ex *status.GrpcException
		if errors.As(err, &ex) {
			return streamelem.StreamElem[any]{}, ex
		}
		return streamelem.StreamElem[any]{}, status.Newf(status.Internal, "grpcserver: failed to read request frame: %v", err)
	}
	if err := framing.RequireCompressionSupport(frame, c.reqCompress.ID != compress.Identity); err != nil {
		return streamelem.StreamElem[any]{}, err
	}
	payload := frame.Payload
	if frame.Compressed() {
		payload, err = c.reqCompress.Decompress(frame.Payload, c.recvMaxBytes)
		if err != nil {
			return streamelem.StreamElem[any]{}, status.Newf(status.InvalidArgument, "grpcserver: failed to decompress request: %v", err)
		}
	}
	if err := c.codec.Unmarshal(payload, msg); err != nil {
		return streamelem.StreamElem[any]{}, status.Newf(status.InvalidArgument, "grpcserver: failed to unmarshal request: %v", err)
	}
	c.state.FinishRecv(false)
	if c.state.RecvHalfClosed() {
		return streamelem.FinalElem[any](msg, streamelem.Metadata{}), nil
	}
	return streamelem.Elem[any](msg), nil
}

func (c *Conn) ensureHeadersWritten() error {
	if c.wroteToBody {
		return nil
	}
	headers := wire.ResponseHeaders{
		ContentType:  wire.ContentTypeForCodec(c.codecName),
		GrpcEncoding: string(c.respCompress.ID),
		GrpcAccept:   c.negotiation.OfferHeader(),
	}
	built, err := headers.Build(c.respHeader)
	if err != nil {
		return status.Newf(status.Internal, "grpcserver: invalid response metadata: %v", err)
	}
	for k, vs := range built {
		c.w.Header()[k] = vs
	}
	c.wroteToBody = true
	return nil
}

// close finalizes the call. It always announces the terminal status and any
// custom trailing metadata via net/http's http.TrailerPrefix convention,
// even when no message was ever sent, as the teacher's grpcHandlerConn.Close
// does: the response is one HEADERS frame promising trailers, followed by
// the trailers themselves. It does not produce a Trailers-Only response for
// a handler error; only Server.writeTrailersOnly does that, for errors found
// before a handler runs.
func (c *Conn) close(err error) {
	defer c.r.Body.Close()
	if hErr := c.ensureHeadersWritten(); hErr != nil && err == nil {
		err = hErr
	}
	ex := status.FromError(err)
	trailers, tErr := wire.ProperTrailers{Status: ex, Custom: c.respTrailer}.Build()
	if tErr != nil {
		ex = status.Newf(status.Internal, "grpcserver: invalid trailing metadata: %v", tErr)
		trailers, _ = wire.ProperTrailers{Status: ex}.Build()
	}
	for key, values := range trailers {
		for _, v := range values {
			c.w.Header().Add(http.TrailerPrefix+key, v)
		}
	}
	if ex == nil || ex.Code() == status.OK {
		c.log.Debug("call finished")
	} else {
		c.log.Warn("call finished", zap.String("code", ex.Code().String()), zap.String("message", ex.Message()))
	}
	c.state.Close(err)
}

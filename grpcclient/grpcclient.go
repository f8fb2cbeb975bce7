// Package grpcclient implements spec.md §4.7's client connection: dialing a
// peer, negotiating compression on the first response, and driving one call
// end to end over the duplex HTTP/2 transport. Grounded on the teacher's
// protocol/grpc/client.go (grpcClient/grpcClientConn: WriteRequestHeader,
// NewConn, validateResponse, grpcErrorFromTrailer) and client_option.go's
// functional-options pattern, rewritten around this module's own
// framing/wire/compress/call/rpc/streamelem packages instead of delegating
// to google.golang.org/grpc's ClientConn.
package grpcclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/h2rpc/grpcore/call"
	"github.com/h2rpc/grpcore/compress"
	"github.com/h2rpc/grpcore/framing"
	"github.com/h2rpc/grpcore/internal/duplex"
	"github.com/h2rpc/grpcore/logging"
	"github.com/h2rpc/grpcore/rpc"
	"github.com/h2rpc/grpcore/status"
	"github.com/h2rpc/grpcore/streamelem"
	"github.com/h2rpc/grpcore/timeout"
	"github.com/h2rpc/grpcore/wire"
)

// defaultUserAgent follows the gRPC-over-HTTP2 spec's recommended
// "grpc-<lang>[-<variant>]/<version>" convention.
const defaultUserAgent = "grpc-go-h2rpc/0.1.0"

// BackoffPolicy computes successive reconnect delays. Default implements
// spec.md §4.7's "min(cap, base*1.5^n) randomized into [1,2)x" policy.
type BackoffPolicy interface {
	Backoff(attempt int) time.Duration
}

// ExponentialBackoff is grounded on grpc's well-known reconnect backoff
// strategy (base * 1.5^n, capped, then jittered by a uniform [1,2) factor).
// Neither the teacher nor the rest of the retrieval pack ships a reusable
// backoff library that expresses this exact formula, so this one function
// is implemented directly against math/rand rather than reimplementing a
// third-party backoff package's public surface for a single call site.
type ExponentialBackoff struct {
	Base time.Duration
	Cap  time.Duration
}

func (b ExponentialBackoff) Backoff(attempt int) time.Duration {
	base, cap_ := b.Base, b.Cap
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if cap_ <= 0 {
		cap_ = 30 * time.Second
	}
	backoff := float64(base) * math.Pow(1.5, float64(attempt))
	if backoff > float64(cap_) {
		backoff = float64(cap_)
	}
	jitter := 1 + rand.Float64() //nolint:gosec
	return time.Duration(backoff * jitter)
}

// Option configures a Client at construction time.
type Option func(*options)

type options struct {
	httpClient     duplex.HTTPClient
	codecs         *rpc.Registry
	negotiation    compress.Negotation
	userAgent      string
	backoff        BackoffPolicy
	maxReconnects  int
	sendMaxBytes   int
	recvMaxBytes   int
	defaultTimeout time.Duration
	logger         *zap.Logger
}

func defaultOptions() options {
	return options{
		codecs:        rpc.NewRegistry(),
		negotiation:   compress.None(compress.DefaultRegistry()),
		userAgent:     defaultUserAgent,
		backoff:       ExponentialBackoff{},
		maxReconnects: 2,
		logger:        logging.Nop(),
	}
}

// WithLogger attaches a connection-owned logger. Every call this client
// opens derives a child logger from it via logging.ForCall.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient overrides the transport. If unset, NewClient builds an
// h2c-capable *http.Client suitable for cleartext HTTP/2.
func WithHTTPClient(c duplex.HTTPClient) Option {
	return func(o *options) { o.httpClient = c }
}

// WithCodecs registers the codecs this client can use to encode requests.
func WithCodecs(registry *rpc.Registry) Option {
	return func(o *options) { o.codecs = registry }
}

// WithCompression sets the compression negotiation strategy applied to
// every call this client makes.
func WithCompression(n compress.Negotation) Option {
	return func(o *options) { o.negotiation = n }
}

// WithUserAgent overrides the default User-Agent string.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithBackoff overrides the reconnect backoff policy.
func WithBackoff(b BackoffPolicy) Option {
	return func(o *options) { o.backoff = b }
}

// WithMaxReconnectAttempts bounds how many times a call will redial and
// replay its already-sent frames after a transport failure observed before
// any response byte came back (spec.md §4.7). 0 disables the retry.
func WithMaxReconnectAttempts(n int) Option {
	return func(o *options) { o.maxReconnects = n }
}

// WithSendMaxBytes caps the size of any single outgoing message.
func WithSendMaxBytes(n int) Option {
	return func(o *options) { o.sendMaxBytes = n }
}

// WithRecvMaxBytes caps the size of any single incoming message.
func WithRecvMaxBytes(n int) Option {
	return func(o *options) { o.recvMaxBytes = n }
}

// WithDefaultTimeout sets a deadline applied to calls that don't already
// carry one from their context.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) { o.defaultTimeout = d }
}

// Client is a connection to one gRPC peer, per spec.md §4.7: it owns the
// peer address, transport, negotiated compression strategy, and default
// call parameters, and it hands out one ClientCall per RPC.
type Client struct {
	target *url.URL
	opts   options
}

// NewClient dials target ("host:port" or a full "http(s)://host:port" URL).
// Without an explicit http.Client (see WithHTTPClient), it builds one that
// speaks h2c (cleartext HTTP/2), matching how a gRPC client normally talks
// to a gRPC server without TLS.
func NewClient(target string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	u, err := parseTarget(target)
	if err != nil {
		return nil, err
	}
	if o.httpClient == nil {
		o.httpClient = defaultHTTPClient(u)
	}
	return &Client{target: u, opts: o}, nil
}

func parseTarget(target string) (*url.URL, error) {
	if u, err := url.Parse(target); err == nil && u.Scheme != "" && u.Host != "" {
		return u, nil
	}
	return url.Parse("http://" + target)
}

func defaultHTTPClient(u *url.URL) *http.Client {
	if u.Scheme == "https" {
		return &http.Client{Transport: &http2.Transport{TLSClientConfig: &tls.Config{}}}
	}
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}

// ClientCall is one in-flight RPC opened by a Client.
type ClientCall struct {
	ctx       context.Context
	cancel    context.CancelFunc
	call      *duplex.Call
	state     *call.Call
	codec     rpc.Codec
	negot     compress.Negotation
	sendCompr compress.Compression // what we compress our own requests with
	chosen    compress.Compression // what the server chose for its responses
	sendMax   int
	recvMax   int
	url       *url.URL
	log       *zap.Logger

	// header/httpClient/backoff/maxRetries/sentFrames/closedSend together
	// support spec.md §4.7's reconnect-and-replay retry: a fresh duplex.Call
	// can be redialed and fed every frame already sent, which is only safe
	// while no response byte has come back yet.
	header     http.Header
	httpClient duplex.HTTPClient
	backoff    BackoffPolicy
	maxRetries int
	sentFrames [][]byte
	closedSend bool

	respValidated bool
	respErr       error

	trailerMeta http.Header
	finalErr    error
}

// requestCompression picks the algorithm a call compresses its own outgoing
// messages with: the first non-identity entry of n.Offer that n.Supported
// can also encode, since advertising an algorithm in grpc-accept-encoding
// implies we know how to produce it too. Falls back to identity.
func requestCompression(n compress.Negotation) compress.Compression {
	for _, id := range n.Offer {
		if id == compress.Identity {
			continue
		}
		if c, ok := n.Supported.Get(id); ok {
			return c
		}
	}
	c, _ := n.Supported.Get(compress.Identity)
	return c
}

// NewCall opens an RPC to method (e.g. "/package.Service/Method") using
// codec, per spec.md §4.6/§4.7. The returned ClientCall's context carries
// the deadline computed from ctx and the client's default timeout.
func (c *Client) NewCall(ctx context.Context, method string, streamingType rpc.StreamingType, codec rpc.Codec) *ClientCall {
	if _, ok := ctx.Deadline(); !ok && c.opts.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.defaultTimeout)
		return c.newCallWithCancel(ctx, cancel, method, streamingType, codec)
	}
	return c.newCallWithCancel(ctx, func() {}, method, streamingType, codec)
}

func (c *Client) newCallWithCancel(ctx context.Context, cancel context.CancelFunc, method string, streamingType rpc.StreamingType, codec rpc.Codec) *ClientCall {
	target := *c.target
	target.Path = method

	sendCompr := requestCompression(c.opts.negotiation)
	header := wire.RequestHeaders{
		Method:        http.MethodPost,
		Path:          method,
		ContentType:   wire.ContentTypeForCodec(codec.Name()),
		UserAgent:     c.opts.userAgent,
		GrpcEncoding:  string(sendCompr.ID),
		GrpcAcceptEnc: c.opts.negotiation.OfferHeader(),
	}
	if deadline, ok := ctx.Deadline(); ok {
		header.GrpcTimeout = timeout.Encode(time.Until(deadline))
	}

	// Custom is always nil here, so Build cannot actually fail; ignoring the
	// error keeps NewCall's signature free of a return a caller could never
	// usefully act on.
	builtHeader, _ := header.Build(nil)
	duplexCall := duplex.New(ctx, c.opts.httpClient, &target, builtHeader)

	cc := &ClientCall{
		ctx:        ctx,
		cancel:     cancel,
		call:       duplexCall,
		state:      call.New(streamingType),
		codec:      codec,
		negot:      c.opts.negotiation,
		sendCompr:  sendCompr,
		sendMax:    c.opts.sendMaxBytes,
		recvMax:    c.opts.recvMaxBytes,
		url:        &target,
		log:        logging.ForCall(c.opts.logger, method),
		header:     builtHeader,
		httpClient: c.opts.httpClient,
		backoff:    c.opts.backoff,
		maxRetries: c.opts.maxReconnects,
	}
	_ = cc.state.SendHeaders()
	cc.log.Debug("call opened", zap.String("streaming_type", streamingType.String()))
	return cc
}

// Send marshals and sends one request message.
func (cc *ClientCall) Send(msg any) error {
	if err := cc.state.BeginSend(); err != nil {
		return err
	}
	payload, err := cc.codec.Marshal(msg)
	if err != nil {
		return status.Newf(status.Internal, "grpcclient: marshal request: %v", err)
	}
	flags := uint8(0)
	if cc.sendCompr.ID != compress.Identity {
		compressed, err := cc.sendCompr.Compress(payload)
		if err != nil {
			return status.Newf(status.Internal, "grpcclient: compress request: %v", err)
		}
		payload, flags = compressed, framing.CompressedFlag
	}
	if cc.sendMax > 0 && len(payload) > cc.sendMax {
		return status.Newf(status.ResourceExhausted, "grpcclient: message of %d bytes exceeds sendMaxBytes %d", len(payload), cc.sendMax)
	}
	frame, err := framing.Build(framing.Frame{Flags: flags, Payload: payload})
	if err != nil {
		return err
	}
	cc.sentFrames = append(cc.sentFrames, frame)
	if _, err := cc.call.Write(frame); err != nil {
		cc.log.Warn("write request failed", zap.Error(err))
		return status.Newf(status.Unavailable, "grpcclient: write request: %v", err)
	}
	cc.state.FinishSend()
	return nil
}

// CloseSend half-closes the request stream, per spec.md §4.6.
func (cc *ClientCall) CloseSend() error {
	cc.state.CloseSend()
	cc.closedSend = true
	if err := cc.call.CloseWrite(); err != nil {
		return status.Newf(status.Unavailable, "grpcclient: close request: %v", err)
	}
	return nil
}

// reconnect rebuilds the underlying duplex.Call against the same target and
// replays every frame already sent. It is only ever invoked from
// validateResponse before any response byte has been observed, so no
// partial response could be lost by starting over.
func (cc *ClientCall) reconnect() error {
	cc.call = duplex.New(cc.ctx, cc.httpClient, cc.url, cc.header)
	for _, frame := range cc.sentFrames {
		if _, err := cc.call.Write(frame); err != nil {
			return err
		}
	}
	if cc.closedSend {
		return cc.call.CloseWrite()
	}
	return nil
}

// validateResponse checks the initial response headers, matching the
// teacher's grpcValidateResponse: HTTP status must be 200, Content-Type
// must match the request codec, and any advertised response compression
// must be in our registry. A transport-level failure here, before any
// response byte has arrived, is retried per spec.md §4.7's backoff policy:
// redial and replay every frame already sent, rather than fail the call
// outright.
func (cc *ClientCall) validateResponse() error {
	if cc.respValidated {
		return cc.respErr
	}
	code, err := cc.call.ResponseStatusCode()
	for attempt := 0; err != nil && attempt < cc.maxRetries; attempt++ {
		cc.log.Warn("transport error before any response; reconnecting",
			zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-cc.ctx.Done():
			cc.respValidated = true
			cc.respErr = cc.ctx.Err()
			return cc.respErr
		case <-time.After(cc.backoff.Backoff(attempt)):
		}
		if rerr := cc.reconnect(); rerr != nil {
			err = rerr
			continue
		}
		code, err = cc.call.ResponseStatusCode()
	}
	cc.respValidated = true
	if err != nil {
		cc.log.Warn("response validation failed", zap.Error(err))
		cc.respErr = err
		return err
	}
	if code != http.StatusOK {
		cc.respErr = status.New(status.HTTPToCode(code), fmt.Sprintf("grpcclient: HTTP status %d", code))
		cc.log.Warn("unexpected HTTP status", zap.Int("status", code))
		return cc.respErr
	}
	header := cc.call.ResponseHeader()
	respContentType := header.Get(wire.HeaderContentType)
	if wantName, ok := wire.CodecNameFromContentType(respContentType); !ok || wantName != cc.codec.Name() {
		if _, isGrpc := wire.CodecNameFromContentType(respContentType); !isGrpc {
			cc.respErr = status.Newf(status.Unknown, "grpcclient: invalid content-type %q", respContentType)
		} else {
			cc.respErr = status.Newf(status.Internal, "grpcclient: invalid content-type %q for codec %q", respContentType, cc.codec.Name())
		}
		return cc.respErr
	}
	encodingHeader := header.Get(wire.HeaderGrpcEncoding)
	if encodingHeader != "" {
		chosen, ok := cc.negot.Supported.Get(compress.CompressionId(encodingHeader))
		if !ok {
			cc.respErr = status.Newf(status.Internal, "grpcclient: server chose unsupported compression %q", encodingHeader)
			return cc.respErr
		}
		cc.chosen = chosen
	}
	return nil
}

// Receive blocks for and unmarshals one response message into msg. It is a
// thin wrapper over ReceiveElem, which is the real runtime representation
// spec.md §4.6/§3 describe.
func (cc *ClientCall) Receive(msg any) error {
	elem, err := cc.ReceiveElem(msg)
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
// further will ever arrive), mirroring the streamelem model the server side
// (grpcserver.Conn.ReceiveElem) exposes for the mirror-image call. FinalElem
// is yielded when the call's arity allows no further response; its Metadata
// is empty, since the trailers have not been read at that point.
func (cc *ClientCall) ReceiveElem(msg any) (streamelem.StreamElem[any], error) {
	if _, err := cc.state.BeginRecv(); err != nil {
		return streamelem.StreamElem[any]{}, err
	}
	if err := cc.validateResponse(); err != nil {
		return streamelem.StreamElem[any]{}, err
	}
	f, err := framing.Read(cc.call, cc.recvMax)
	if err != nil {
		if err == io.EOF {
			meta, endErr := cc.handleStreamEnd()
			if endErr != nil {
				return streamelem.StreamElem[any]{}, endErr
			}
			return streamelem.NoMoreElems[any](meta), nil
		}
		cc.log.Warn("read response failed", zap.Error(err))
		return streamelem.StreamElem[any]{}, status.Newf(status.Unavailable, "grpcclient: read response: %v", err)
	}
	if err := framing.RequireCompressionSupport(f, cc.chosen.ID != "" && cc.chosen.ID != compress.Identity); err != nil {
		return streamelem.StreamElem[any]{}, err
	}
	payload := f.Payload
	if f.Compressed() {
		payload, err = cc.chosen.Decompress(payload, cc.recvMax)
		if err != nil {
			return streamelem.StreamElem[any]{}, err
		}
	}
	if err := cc.codec.Unmarshal(payload, msg); err != nil {
		return streamelem.StreamElem[any]{}, status.Newf(status.InvalidArgument, "grpcclient: unmarshal response: %v", err)
	}
	cc.state.FinishRecv(false)
	if cc.state.RecvHalfClosed() {
		return streamelem.FinalElem[any](msg, streamelem.Metadata{}), nil
	}
	return streamelem.Elem[any](msg), nil
}

// handleStreamEnd is reached when the response body hits EOF: the RPC
// terminated, either cleanly or with an error carried in the trailers.
func (cc *ClientCall) handleStreamEnd() (streamelem.Metadata, error) {
	cc.state.FinishRecv(true)
	trailer := cc.call.ResponseTrailer()
	ex, err := wire.ParseTrailers(trailer)
	if err != nil {
		// Trailers-Only: status travelled in the headers instead.
		ex, err = wire.ParseTrailers(cc.call.ResponseHeader())
		if err != nil {
			cc.log.Warn("response ended without a grpc-status trailer")
			return streamelem.Metadata{}, status.New(status.Internal, "grpcclient: response ended without a grpc-status trailer")
		}
	}
	if ex != nil {
		cc.log.Debug("call finished", zap.String("code", ex.Code().String()), zap.String("message", ex.Message()))
		return streamelem.Metadata{}, ex
	}
	return streamelem.Metadata{Trailers: trailer}, nil
}

// Close releases the call's resources. It is safe to call multiple times.
func (cc *ClientCall) Close() error {
	defer cc.cancel()
	cc.log.Debug("call closed")
	err1 := cc.call.CloseWrite()
	err2 := cc.call.CloseRead()
	cc.state.Close(nil)
	if err1 != nil {
		return err1
	}
	return err2
}

// ResponseHeader blocks until the initial response headers arrive.
func (cc *ClientCall) ResponseHeader() http.Header {
	return cc.call.ResponseHeader()
}

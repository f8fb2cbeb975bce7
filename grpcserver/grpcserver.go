// Package grpcserver implements spec.md §4.8's server connection: per-request
// HTTP/2 stream handling as an http.Handler, pre-RPC resource checks (wrong
// method, unsupported content-type) answered as plain HTTP errors, method
// lookup by path, request header parsing, and driving the call state
// machine through a registered handler function. Grounded on the teacher's
// handler.go (ServeHTTP's pre-dispatch checks) and protocol/grpc/handler.go
// (grpcHandlerConn: compression negotiation, trailers-only shortcut,
// Send/Receive/Close).
package grpcserver

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/h2rpc/grpcore/call"
	"github.com/h2rpc/grpcore/compress"
	"github.com/h2rpc/grpcore/logging"
	"github.com/h2rpc/grpcore/rpc"
	"github.com/h2rpc/grpcore/status"
	"github.com/h2rpc/grpcore/wire"
)

// HandlerFunc implements one RPC method's server-side logic: it drives
// conn.Receive/conn.Send however many times its streaming arity allows, and
// its return value becomes the call's terminal grpc-status (nil means OK).
type HandlerFunc func(ctx context.Context, conn *Conn) error

// Method registers one RPC method's descriptor and implementation.
type Method struct {
	Descriptor rpc.Descriptor
	Handler    HandlerFunc
}

// Server is a path-routed collection of gRPC methods served as a single
// http.Handler, per spec.md §4.8.
type Server struct {
	methods      map[string]Method
	codecs       *rpc.Registry
	negotiation  compress.Negotation
	sendMaxBytes int
	recvMaxBytes int
	log          *zap.Logger

	mu           sync.Mutex
	shuttingDown bool
	nextCallID   uint64
	cancels      map[uint64]context.CancelFunc
	shutdownErrs []error
	wg           sync.WaitGroup
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithCodecs registers the codecs this server accepts, beyond the ones
// implied by each registered Method's own Descriptor.Codec.
func WithCodecs(registry *rpc.Registry) Option {
	return func(s *Server) { s.codecs = registry }
}

// WithCompression sets the compression this server can negotiate with
// clients.
func WithCompression(n compress.Negotation) Option {
	return func(s *Server) { s.negotiation = n }
}

// WithSendMaxBytes caps the size of any single outgoing message.
func WithSendMaxBytes(n int) Option {
	return func(s *Server) { s.sendMaxBytes = n }
}

// WithRecvMaxBytes caps the size of any single incoming message.
func WithRecvMaxBytes(n int) Option {
	return func(s *Server) { s.recvMaxBytes = n }
}

// WithLogger attaches a connection-owned logger. Every request this server
// handles derives a child logger from it via logging.ForCall.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer builds a Server from its registered methods.
func NewServer(methods []Method, opts ...Option) *Server {
	s := &Server{
		methods:     make(map[string]Method, len(methods)),
		codecs:      rpc.NewRegistry(),
		negotiation: compress.None(compress.DefaultRegistry()),
		log:         logging.Nop(),
		cancels:     make(map[uint64]context.CancelFunc),
	}
	for _, m := range methods {
		s.methods[m.Descriptor.Name] = m
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ http.Handler = (*Server)(nil)

// ServeHTTP dispatches one HTTP/2 request, per spec.md §4.8's two-step
// split: step 1 parses resource headers and rejects a non-POST method or a
// syntactically malformed path as a plain HTTP error (405/400), since at
// that point a gRPC status wouldn't mean anything to whatever's on the
// other end. Step 2 looks up the method by path; a well-formed path with no
// registered handler is a legitimate gRPC-level failure, answered as
// TrailersOnly(Unimplemented) rather than a bare 404, so any real gRPC
// client still gets a grpc-status it can read.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isWellFormedPath(r.URL.Path) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	method, ok := s.methods[r.URL.Path]
	if !ok {
		codecName, hasCodec := wire.CodecNameFromContentType(r.Header.Get(wire.HeaderContentType))
		if !hasCodec {
			codecName = "proto"
		}
		s.writeTrailersOnly(w, codecName, status.Newf(status.Unimplemented, "grpcserver: unknown method %q", r.URL.Path))
		return
	}
	codecName, ok := wire.CodecNameFromContentType(r.Header.Get(wire.HeaderContentType))
	if !ok {
		w.Header().Set("Accept-Post", s.acceptPostHeader())
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}
	codec := s.codecFor(method, codecName)
	if codec == nil {
		w.Header().Set("Accept-Post", s.acceptPostHeader())
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	reqHeaders := wire.ParseRequestHeaders(r.Header)
	params, err := wire.ParseCallParams(reqHeaders)
	if err != nil {
		s.writeTrailersOnly(w, codecName, status.FromError(err))
		return
	}

	ctx := r.Context()
	var cancel context.CancelFunc
	if params.HasTimeout {
		d, derr := params.Timeout.Duration()
		if derr == nil {
			ctx, cancel = context.WithTimeout(ctx, d)
		} else {
			ctx, cancel = context.WithCancel(ctx)
		}
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	callID := s.trackCall(cancel)
	defer s.untrackCall(callID)
	defer cancel()

	chosen, err := s.negotiation.Choose(params.AcceptEncodings)
	if err != nil {
		s.writeTrailersOnly(w, codecName, status.New(status.Unimplemented, err.Error()))
		return
	}
	reqCompression, ok := s.negotiation.Supported.Get(params.RequestEncoding)
	if !ok {
		s.writeTrailersOnly(w, codecName, status.Newf(status.Unimplemented, "grpcserver: unsupported grpc-encoding %q", params.RequestEncoding))
		return
	}

	conn := &Conn{
		w:            w,
		r:            r,
		codecName:    codecName,
		codec:        codec,
		reqCompress:  reqCompression,
		respCompress: chosen,
		negotiation:  s.negotiation,
		state:        call.New(method.Descriptor.StreamingType.Mirror()),
		sendMaxBytes: s.sendMaxBytes,
		recvMaxBytes: s.recvMaxBytes,
		respHeader:   make(http.Header),
		respTrailer:  make(http.Header),
		log:          logging.ForCall(s.log, method.Descriptor.Name),
	}

	err = method.Handler(ctx, conn)
	conn.close(err)
	s.recordIfShuttingDown(err)
}

// trackCall registers cancel so Shutdown can fan cancellation out to every
// in-flight call, and marks the call as outstanding for Shutdown's drain.
func (s *Server) trackCall(cancel context.CancelFunc) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCallID++
	id := s.nextCallID
	s.cancels[id] = cancel
	s.wg.Add(1)
	return id
}

func (s *Server) untrackCall(id uint64) {
	s.mu.Lock()
	delete(s.cancels, id)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) recordIfShuttingDown(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown {
		s.shutdownErrs = append(s.shutdownErrs, err)
	}
}

// Shutdown cancels every in-flight call's context, per spec.md §5
// ("cancelling the connection cancels all its calls"), then waits for them
// to unwind or for ctx to expire, whichever comes first. The errors returned
// by calls that were still running at the moment of Shutdown are joined with
// go.uber.org/multierr into a single value suitable for one log line.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shuttingDown = true
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.mu.Lock()
		err := multierr.Combine(append(s.shutdownErrs, ctx.Err())...)
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return multierr.Combine(s.shutdownErrs...)
}

func (s *Server) codecFor(m Method, name string) rpc.Codec {
	if m.Descriptor.Codec != nil && m.Descriptor.Codec.Name() == name {
		return m.Descriptor.Codec
	}
	return s.codecs.Get(name)
}

func (s *Server) acceptPostHeader() string {
	names := map[string]struct{}{}
	for _, m := range s.methods {
		if m.Descriptor.Codec != nil {
			names[wire.ContentTypeForCodec(m.Descriptor.Codec.Name())] = struct{}{}
		}
	}
	for _, name := range s.codecs.Names() {
		names[wire.ContentTypeForCodec(name)] = struct{}{}
	}
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}

// writeTrailersOnly answers a pre-RPC protocol error (unknown method, bad
// grpc-timeout, failed compression negotiation) as a Trailers-Only
// response, per spec.md §4.5, before any handler code runs.
func (s *Server) writeTrailersOnly(w http.ResponseWriter, codecName string, ex *status.GrpcException) {
	h, err := wire.TrailersOnly(wire.ResponseHeaders{ContentType: wire.ContentTypeForCodec(codecName)}, ex, nil)
	if err != nil {
		h, _ = wire.TrailersOnly(wire.ResponseHeaders{ContentType: wire.ContentTypeForCodec(codecName)}, status.New(status.Internal, err.Error()), nil)
	}
	for k, vs := range h {
		w.Header()[k] = vs
	}
	w.WriteHeader(http.StatusOK)
}

// isWellFormedPath reports whether p has the "/{service}/{method}" shape
// spec.md §4.8 step 1 requires of every gRPC request path.
func isWellFormedPath(p string) bool {
	if len(p) == 0 || p[0] != '/' {
		return false
	}
	parts := strings.Split(p[1:], "/")
	if len(parts) != 2 {
		return false
	}
	return parts[0] != "" && parts[1] != ""
}

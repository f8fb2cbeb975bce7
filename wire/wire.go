// Package wire implements spec.md §4.5's header and trailer conventions:
// building and parsing the gRPC-specific fixed headers (grpc-timeout,
// grpc-encoding, grpc-accept-encoding, te; the HTTP/2 pseudo-headers are
// left to net/http), the
// content-type negotiation between "application/grpc" and
// "application/grpc+<codec>", grpc-message percent-encoding, and the
// Trailers-Only shortcut. Grounded on the teacher's protocol/grpc/protocol.go,
// protocol/grpc/util.go, protocol/grpc/handler.go, and protocol/grpc/client.go.
package wire

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/protobuf/proto"

	"github.com/h2rpc/grpcore/compress"
	"github.com/h2rpc/grpcore/metadata"
	"github.com/h2rpc/grpcore/status"
	"github.com/h2rpc/grpcore/timeout"
)

// Fixed header names used by the gRPC-over-HTTP/2 wire protocol.
const (
	HeaderContentType     = "Content-Type"
	HeaderTE              = "Te"
	HeaderUserAgent       = "User-Agent"
	HeaderGrpcEncoding    = "Grpc-Encoding"
	HeaderGrpcAccept      = "Grpc-Accept-Encoding"
	HeaderGrpcTimeout     = "Grpc-Timeout"
	HeaderGrpcStatus      = "Grpc-Status"
	HeaderGrpcMessage     = "Grpc-Message"
	HeaderGrpcStatusBin   = "Grpc-Status-Details-Bin"
)

const (
	contentTypeDefault = "application/grpc"
	contentTypePrefix  = contentTypeDefault + "+"
)

// ContentTypeForCodec renders the Content-Type header value for the given
// codec name. "proto" gets the bare "application/grpc" per the teacher's
// grpcContentTypeFromCodecName, for compatibility with intermediaries that
// assume an implicit default codec.
func ContentTypeForCodec(codecName string) string {
	if codecName == "proto" {
		return contentTypeDefault
	}
	return contentTypePrefix + codecName
}

// CodecNameFromContentType is ContentTypeForCodec's inverse: it extracts the
// codec name a Content-Type header implies, defaulting to "proto" for the
// bare content type.
func CodecNameFromContentType(contentType string) (codecName string, ok bool) {
	if contentType == contentTypeDefault {
		return "proto", true
	}
	if strings.HasPrefix(contentType, contentTypePrefix) {
		return strings.TrimPrefix(contentType, contentTypePrefix), true
	}
	return "", false
}

// RequestHeaders is everything a client attaches when opening a call,
// before any custom metadata.
type RequestHeaders struct {
	Method          string // always POST
	Path            string // "/package.Service/Method"
	Authority       string
	ContentType     string
	UserAgent       string
	TE              string // always "trailers"
	GrpcEncoding    string // request compression, omitted if identity
	GrpcAcceptEnc   string // comma-separated list we can decode
	GrpcTimeout     string // encoded grpc-timeout, omitted if no deadline
}

// Build renders h plus custom into an http.Header ready to open an HTTP/2
// request. Pseudo-headers (:method, :scheme, :path, :authority) are not
// represented here: net/http's client derives them from the Request itself.
// It rejects any custom header using the reserved "grpc-" prefix (spec.md
// §3/§8), so an invalid name never reaches the wire.
func (h RequestHeaders) Build(custom http.Header) (http.Header, error) {
	if err := metadata.ValidateCustom(custom); err != nil {
		return nil, err
	}
	out := make(http.Header, len(custom)+6)
	out.Set(HeaderContentType, h.ContentType)
	out.Set(HeaderTE, "trailers")
	if h.UserAgent != "" {
		out.Set(HeaderUserAgent, h.UserAgent)
	}
	if h.GrpcEncoding != "" && h.GrpcEncoding != string(compress.Identity) {
		out.Set(HeaderGrpcEncoding, h.GrpcEncoding)
	}
	if h.GrpcAcceptEnc != "" {
		out.Set(HeaderGrpcAccept, h.GrpcAcceptEnc)
	}
	if h.GrpcTimeout != "" {
		out.Set(HeaderGrpcTimeout, h.GrpcTimeout)
	}
	for k, vs := range custom {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	return out, nil
}

// ParseRequestHeaders extracts the fixed gRPC headers from an inbound
// request's header set. It does not validate Path/Method; callers route on
// those separately.
func ParseRequestHeaders(h http.Header) RequestHeaders {
	return RequestHeaders{
		ContentType:   h.Get(HeaderContentType),
		UserAgent:     h.Get(HeaderUserAgent),
		TE:            h.Get(HeaderTE),
		GrpcEncoding:  h.Get(HeaderGrpcEncoding),
		GrpcAcceptEnc: h.Get(HeaderGrpcAccept),
		GrpcTimeout:   h.Get(HeaderGrpcTimeout),
	}
}

// CallParams bundles the parsed, interpreted form of RequestHeaders: the
// negotiated request compression, the timeout as a time.Duration-ready
// value, and the peer's accepted response compressions.
type CallParams struct {
	RequestEncoding compress.CompressionId
	AcceptEncodings []compress.CompressionId
	Timeout         timeout.Timeout
	HasTimeout      bool
}

// ParseCallParams interprets h's fixed headers into CallParams. A missing or
// empty grpc-timeout is not an error: HasTimeout is simply false.
func ParseCallParams(h RequestHeaders) (CallParams, error) {
	params := CallParams{RequestEncoding: compress.Identity}
	if h.GrpcEncoding != "" {
		params.RequestEncoding = compress.CompressionId(h.GrpcEncoding)
	}
	if h.GrpcAcceptEnc != "" {
		params.AcceptEncodings = compress.ParseOffer(h.GrpcAcceptEnc)
	}
	if h.GrpcTimeout != "" {
		t, err := timeout.Parse(h.GrpcTimeout)
		if err != nil {
			if err == timeout.ErrNoTimeout {
				return params, nil
			}
			return CallParams{}, status.Newf(status.InvalidArgument, "wire: invalid grpc-timeout: %v", err)
		}
		params.Timeout = t
		params.HasTimeout = true
	}
	return params, nil
}

// ResponseHeaders is what a server attaches to its initial HEADERS frame,
// before any custom metadata.
type ResponseHeaders struct {
	ContentType  string
	GrpcEncoding string // response compression, omitted if identity
	GrpcAccept   string // comma-separated list we can decode
}

// Build renders h plus custom into the initial HEADERS frame's fields. It
// rejects any custom header using the reserved "grpc-" prefix.
func (h ResponseHeaders) Build(custom http.Header) (http.Header, error) {
	if err := metadata.ValidateCustom(custom); err != nil {
		return nil, err
	}
	out := make(http.Header, len(custom)+3)
	out.Set(HeaderContentType, h.ContentType)
	if h.GrpcEncoding != "" && h.GrpcEncoding != string(compress.Identity) {
		out.Set(HeaderGrpcEncoding, h.GrpcEncoding)
	}
	if h.GrpcAccept != "" {
		out.Set(HeaderGrpcAccept, h.GrpcAccept)
	}
	for k, vs := range custom {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	return out, nil
}

// ProperTrailers is the HTTP/2 trailer set a server sends after the last
// DATA frame: the terminal grpc-status/grpc-message/details plus any custom
// trailing metadata.
type ProperTrailers struct {
	Status  *status.GrpcException // nil means OK
	Custom  http.Header
}

// Build renders t as an http.Header suitable for use as HTTP/2 trailers. It
// rejects any custom trailer using the reserved "grpc-" prefix.
func (t ProperTrailers) Build() (http.Header, error) {
	if err := metadata.ValidateCustom(t.Custom); err != nil {
		return nil, err
	}
	out := make(http.Header, len(t.Custom)+3)
	for k, vs := range t.Custom {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	writeStatus(out, t.Status)
	return out, nil
}

// TrailersOnly renders a response that carries no messages at all: status
// and custom metadata both travel in the initial (and only) HEADERS frame,
// per spec.md §4.5's Trailers-Only shortcut. grpcserver sends it only for
// errors detected before a handler runs; a handler's own error is reported
// in ordinary trailers.
func TrailersOnly(response ResponseHeaders, status *status.GrpcException, custom http.Header) (http.Header, error) {
	out, err := response.Build(custom)
	if err != nil {
		return nil, err
	}
	writeStatus(out, status)
	return out, nil
}

func writeStatus(out http.Header, ex *status.GrpcException) {
	if ex == nil {
		out.Set(HeaderGrpcStatus, "0")
		return
	}
	out.Set(HeaderGrpcStatus, strconv.Itoa(int(status.FromCode(ex.Code()))))
	out.Set(HeaderGrpcMessage, PercentEncode(ex.Message()))
	if len(ex.Details()) > 0 {
		if data, err := proto.Marshal(ex.Proto()); err == nil && len(data) > 0 {
			out.Set(HeaderGrpcStatusBin, metadata.EncodeBinary(data))
		}
	}
}

// ParseTrailers extracts the terminal status from HTTP/2 trailers (or, for
// a Trailers-Only response, from the HEADERS frame itself).
func ParseTrailers(h http.Header) (*status.GrpcException, error) {
	code, ok := statusCodeFromHeader(h.Get(HeaderGrpcStatus))
	if !ok {
		return nil, fmt.Errorf("wire: missing or invalid %s trailer", HeaderGrpcStatus)
	}
	if code == status.OK {
		return nil, nil
	}
	message, err := PercentDecode(h.Get(HeaderGrpcMessage))
	if err != nil {
		message = h.Get(HeaderGrpcMessage)
	}
	return status.New(code, message), nil
}

// CustomTrailerMetadata returns h's non-gRPC-reserved entries: the
// application trailing metadata ProperTrailers.Build fused together with
// the terminal status, split back apart. This is the other half of
// spec.md §8's round-trip invariant for trailing metadata.
func CustomTrailerMetadata(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		switch strings.ToLower(k) {
		case strings.ToLower(HeaderGrpcStatus), strings.ToLower(HeaderGrpcMessage), strings.ToLower(HeaderGrpcStatusBin):
			continue
		}
		out[k] = vs
	}
	return out
}

func statusCodeFromHeader(v string) (status.Code, bool) {
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, false
	}
	code, ok := status.ToCode(int32(n))
	return code, ok
}

// upperHex matches the teacher's grpcPercentEncode table.
const upperHex = "0123456789ABCDEF"

// PercentEncode escapes msg per the gRPC HTTP/2 spec's variant of RFC 3986
// percent-encoding, used for the grpc-message trailer. Grounded verbatim on
// the teacher's grpcPercentEncode.
func PercentEncode(msg string) string {
	var hexCount int
	for i := 0; i < len(msg); i++ {
		if shouldEscape(msg[i]) {
			hexCount++
		}
	}
	if hexCount == 0 {
		return msg
	}
	var out strings.Builder
	out.Grow(len(msg) + 2*hexCount)
	for i := 0; i < len(msg); i++ {
		c := msg[i]
		if shouldEscape(c) {
			out.WriteByte('%')
			out.WriteByte(upperHex[c>>4])
			out.WriteByte(upperHex[c&15])
		} else {
			out.WriteByte(c)
		}
	}
	return out.String()
}

// PercentDecode is PercentEncode's inverse.
func PercentDecode(input string) (string, error) {
	percentCount := 0
	for i := 0; i < len(input); {
		if input[i] == '%' {
			if err := validateHex(input[i:]); err != nil {
				return "", err
			}
			percentCount++
			i += 3
		} else {
			i++
		}
	}
	if percentCount == 0 {
		return input, nil
	}
	var out strings.Builder
	out.Grow(len(input) - 2*percentCount)
	for i := 0; i < len(input); i++ {
		if input[i] == '%' {
			out.WriteByte(unhex(input[i+1])<<4 | unhex(input[i+2]))
			i += 2
		} else {
			out.WriteByte(input[i])
		}
	}
	return out.String(), nil
}

func shouldEscape(c byte) bool { return c < ' ' || c > '~' || c == '%' }

func validateHex(input string) error {
	if len(input) < 3 || input[0] != '%' || !isHex(input[1]) || !isHex(input[2]) {
		if len(input) > 3 {
			input = input[:3]
		}
		return fmt.Errorf("wire: invalid percent-encoded string %q", input)
	}
	return nil
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

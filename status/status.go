// Package status implements the gRPC status taxonomy: the bijection between
// the sixteen named error codes and their wire values, and the GrpcException
// type that carries a code, message, details and (for errors observed on the
// wire) trailing metadata across the HTTP/2 boundary.
package status

import (
	"context"
	"fmt"
	"net/http"
	"os"

	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// Code is a gRPC status code. It is defined as the same sixteen-member plus
// Ok taxonomy as google.golang.org/grpc/codes.Code, so the wire value for a
// given name matches the gRPC specification exactly (0 = Ok, 1..16 = the
// named errors). We alias rather than redefine it: the pack's teacher and
// google.golang.org/grpc both treat status codes as this 0..16 enumeration,
// and reusing the ecosystem type keeps us interoperable with anything that
// already speaks codes.Code.
type Code = codes.Code

// The sixteen-variant error taxonomy from spec.md §4.3. Ok itself is not a
// GrpcError: a GrpcStatus is either Ok or Error(GrpcError).
const (
	OK                 = codes.OK
	Canceled           = codes.Canceled
	Unknown            = codes.Unknown
	InvalidArgument    = codes.InvalidArgument
	DeadlineExceeded   = codes.DeadlineExceeded
	NotFound           = codes.NotFound
	AlreadyExists      = codes.AlreadyExists
	PermissionDenied   = codes.PermissionDenied
	ResourceExhausted  = codes.ResourceExhausted
	FailedPrecondition = codes.FailedPrecondition
	Aborted            = codes.Aborted
	OutOfRange         = codes.OutOfRange
	Unimplemented      = codes.Unimplemented
	Internal           = codes.Internal
	Unavailable        = codes.Unavailable
	DataLoss           = codes.DataLoss
	Unauthenticated    = codes.Unauthenticated
)

// ToCode maps a wire value (0..16) to a Code. Values outside that range have
// no corresponding Code; ok reports whether c is in range. This is one half
// of the round-trip invariant from spec.md §8:
// toGrpcStatus(fromGrpcStatus(s)) = Some(s).
func ToCode(wire int32) (c Code, ok bool) {
	if wire < 0 || wire > int32(codes.Unauthenticated) {
		return 0, false
	}
	return Code(wire), true
}

// FromCode is the inverse of ToCode: every Code in 0..16 has a wire value
// equal to its own numeric representation.
func FromCode(c Code) int32 {
	return int32(c)
}

// GrpcException is the runtime's error type. It always carries a Code; Ok
// exceptions are legal to construct (a non-empty message with code Ok is
// permitted, if discouraged, per spec.md §4.3) but callers should generally
// only construct non-Ok exceptions.
type GrpcException struct {
	code     Code
	message  string
	err      error
	details  []*anypb.Any
	trailers http.Header
	// wire marks an exception that was received from the network verbatim,
	// as opposed to one inferred locally from a Go error. Wire exceptions
	// are never rewritten by WrapIfContextDone and friends.
	wire bool
}

// New constructs a GrpcException from a code and message.
func New(code Code, message string) *GrpcException {
	return &GrpcException{code: code, message: message}
}

// Newf constructs a GrpcException with a formatted message and wraps the
// original error for errors.Is/errors.As.
func Newf(code Code, format string, args ...any) *GrpcException {
	err := fmt.Errorf(format, args...)
	return &GrpcException{code: code, message: err.Error(), err: err}
}

// FromError converts an arbitrary error into a GrpcException. If err already
// is (or wraps) a *GrpcException, that exception is returned unchanged.
// Otherwise the error is classified per spec.md §7's "user handler
// exception" rule: context errors map to Canceled/DeadlineExceeded, anything
// else becomes Unknown.
func FromError(err error) *GrpcException {
	if err == nil {
		return nil
	}
	var ex *GrpcException
	if As(err, &ex) {
		return ex
	}
	switch {
	case Is(err, context.Canceled):
		return &GrpcException{code: Canceled, message: err.Error(), err: err}
	case Is(err, context.DeadlineExceeded), Is(err, os.ErrDeadlineExceeded):
		return &GrpcException{code: DeadlineExceeded, message: err.Error(), err: err}
	default:
		return &GrpcException{code: Unknown, message: err.Error(), err: err}
	}
}

// FromProto converts a google.rpc.Status into a GrpcException, preserving
// any attached details.
func FromProto(s *spb.Status) *GrpcException {
	code, ok := ToCode(s.GetCode())
	if !ok {
		code = Unknown
	}
	return &GrpcException{code: code, message: s.GetMessage(), details: s.GetDetails()}
}

// Proto renders the exception as a google.rpc.Status, suitable for
// transmission in grpc-status-details-bin.
func (e *GrpcException) Proto() *spb.Status {
	return &spb.Status{
		Code:    FromCode(e.code),
		Message: e.message,
		Details: e.details,
	}
}

func (e *GrpcException) Error() string {
	return fmt.Sprintf("rpc error: code = %s desc = %s", e.code, e.message)
}

// Unwrap exposes the underlying Go error, if any, for errors.Is/errors.As.
func (e *GrpcException) Unwrap() error {
	return e.err
}

func (e *GrpcException) Code() Code { return e.code }

func (e *GrpcException) Message() string { return e.message }

func (e *GrpcException) Details() []*anypb.Any { return e.details }

// WithDetails appends protobuf messages to the exception's details,
// wrapping each in an anypb.Any.
func (e *GrpcException) WithDetails(details ...proto.Message) (*GrpcException, error) {
	for _, d := range details {
		any, err := anypb.New(d)
		if err != nil {
			return e, err
		}
		e.details = append(e.details, any)
	}
	return e, nil
}

// AsWireException marks the exception as having been read verbatim off the
// wire (see spec.md §7 "Peer-reported status": surface the exact
// GrpcException). Wire exceptions bypass local reclassification.
func (e *GrpcException) AsWireException() *GrpcException {
	e.wire = true
	return e
}

func (e *GrpcException) IsWireException() bool { return e.wire }

// Trailers returns any trailing metadata observed alongside this exception
// (set by the call state machine when the exception terminates a call).
func (e *GrpcException) Trailers() http.Header { return e.trailers }

func (e *GrpcException) WithTrailers(h http.Header) *GrpcException {
	e.trailers = h
	return e
}

// FromContextError converts a context error (or an error wrapping one) into
// a GrpcException, per spec.md §7's Deadline/Cancellation classification.
// A nil err yields a nil result; any non-context error becomes Unknown.
func FromContextError(err error) error {
	if err == nil {
		return nil
	}
	var ex *GrpcException
	if As(err, &ex) {
		return ex
	}
	if Is(err, context.Canceled) {
		return &GrpcException{code: Canceled, message: err.Error(), err: err}
	}
	if Is(err, context.DeadlineExceeded) || Is(err, os.ErrDeadlineExceeded) {
		return &GrpcException{code: DeadlineExceeded, message: err.Error(), err: err}
	}
	return &GrpcException{code: Unknown, message: err.Error(), err: err}
}

// HTTPToCode maps an out-of-spec HTTP status code (one observed before any
// gRPC status could be produced, e.g. a proxy error) onto the closest gRPC
// status, mirroring the table grpc-go uses for its "http status" fallback.
func HTTPToCode(httpStatus int) Code {
	switch httpStatus {
	case http.StatusBadRequest:
		return Internal
	case http.StatusUnauthorized:
		return Unauthenticated
	case http.StatusForbidden:
		return PermissionDenied
	case http.StatusNotFound:
		return Unimplemented
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return Unavailable
	default:
		return Unknown
	}
}

// AsGRPCStatus adapts a GrpcException to google.golang.org/grpc/status's
// *Status, for interop with code that already expects a grpc-go error.
func (e *GrpcException) AsGRPCStatus() *grpcstatus.Status {
	return grpcstatus.New(e.code, e.message)
}

package status

import (
	"context"
	ge "errors"
)

// Is and As re-export the standard library's error-chain helpers so callers
// don't need a second import for the common case of testing a
// *GrpcException chain. Mirrors the teacher's errors/std.go.
func Is(err, target error) bool { return ge.Is(err, target) }

func As(err error, target any) bool { return ge.As(err, target) }

// WrapIfContextDone wraps err with Canceled or DeadlineExceeded if ctx has
// ended, leaving already-classified exceptions untouched. Grounded on the
// teacher's protocol.WrapIfContextDone / errors.WrapIfContextDone.
func WrapIfContextDone(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var ex *GrpcException
	if As(err, &ex) {
		return ex
	}
	switch ctx.Err() {
	case context.Canceled:
		return New(Canceled, err.Error())
	case context.DeadlineExceeded:
		return New(DeadlineExceeded, err.Error())
	default:
		return FromContextError(err)
	}
}

package duplex

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/h2rpc/grpcore/status"
)

const commonErrorsURL = "https://grpc.io/docs/guides/error/"

// classifyTransportError turns a raw net/http transport error into a
// GrpcException, adding a diagnostic hint for two very common
// misconfigurations (missing h2c on the transport, or talking gRPC to a
// server that expects HTTP/1.1) before falling back to Unavailable.
// Grounded on the teacher's internal/duplex/errors.go.
func classifyTransportError(request *http.Request, err error) error {
	if err == nil {
		return nil
	}
	err = wrapIfLikelyH2CNotConfigured(request, err)
	err = wrapIfRSTStreamError(err)
	var ge *status.GrpcException
	if errors.As(err, &ge) {
		return ge
	}
	return status.New(status.Unavailable, err.Error())
}

func wrapIfLikelyH2CNotConfigured(request *http.Request, err error) error {
	if u := request.URL; u != nil && u.Scheme != "http" {
		return err
	}
	msg := err.Error()
	if strings.HasPrefix(msg, `Post "`) &&
		(strings.Contains(msg, "net/http: HTTP/1.x transport connection broken: malformed HTTP response") ||
			strings.HasSuffix(msg, "write: broken pipe")) {
		return fmt.Errorf("possible missing h2c transport when talking to a cleartext HTTP/2 server, see %s: %w", commonErrorsURL, err)
	}
	return err
}

// wrapIfRSTStreamError maps an HTTP/2 RST_STREAM error code, which arrives
// as a string-formatted error from x/net/http2, back onto the gRPC status
// taxonomy per the HTTP/2-transport-mapping table.
func wrapIfRSTStreamError(err error) error {
	const (
		prefix = "stream error: "
		suffix = "; received from peer"
	)
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Unwrap()
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, prefix) || !strings.HasSuffix(msg, suffix) {
		return err
	}
	msg = strings.TrimSuffix(msg, suffix)
	i := strings.LastIndex(msg, ";")
	if i < 0 || i >= len(msg)-1 {
		return err
	}
	code := strings.TrimSpace(msg[i+1:])
	switch code {
	case "NO_ERROR", "PROTOCOL_ERROR", "INTERNAL_ERROR", "FLOW_CONTROL_ERROR",
		"SETTINGS_TIMEOUT", "FRAME_SIZE_ERROR", "COMPRESSION_ERROR", "CONNECT_ERROR":
		return status.New(status.Internal, msg)
	case "REFUSED_STREAM":
		return status.New(status.Unavailable, msg)
	case "CANCEL":
		return status.New(status.Canceled, msg)
	case "ENHANCE_YOUR_CALM":
		return status.New(status.ResourceExhausted, msg)
	case "INADEQUATE_SECURITY":
		return status.New(status.PermissionDenied, msg)
	default:
		return err
	}
}

// Package xh2c builds the cleartext-HTTP/2 *http.Server a grpcserver.Server
// needs to be reachable without TLS, mirroring the teacher's server.go,
// which wraps its mux in h2c.NewHandler(mux, &http2.Server{...}) rather
// than requiring callers to assemble that themselves.
package xh2c

import (
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Options configures the underlying http2.Server and http.Server.
type Options struct {
	MaxConcurrentStreams uint32
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
}

// NewServer wraps handler so it can serve gRPC requests over cleartext
// HTTP/2 (h2c), the usual way a gRPC server without TLS is reached.
func NewServer(handler http.Handler, opts Options) *http.Server {
	h2s := &http2.Server{
		MaxConcurrentStreams: opts.MaxConcurrentStreams,
	}
	return &http.Server{
		Handler:      h2c.NewHandler(handler, h2s),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}
}

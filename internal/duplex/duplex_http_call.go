// Package duplex implements the full-duplex HTTP/2 call spec.md §4.7/§4.8
// build on top of: a request whose body is written to as messages are sent
// and whose response body is read from as messages arrive, using net/http's
// io.Pipe trick since net/http exposes no lower-level framing control.
// Grounded on the teacher's internal/duplex/duplex_http_call.go, adapted to
// write plain []byte frames (from the framing package) directly instead of
// threading a MessagePayload/MessageSender abstraction through every call.
package duplex

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
)

// HTTPClient is the interface a client connection needs from its transport.
// *http.Client implements it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Call is a full-duplex stream between client and server: the request body
// is the client-to-server byte stream, the response body is the reverse.
type Call struct {
	ctx        context.Context
	httpClient HTTPClient

	OnRequestSend func(*http.Request)

	requestBodyWriter *io.PipeWriter
	requestSent       atomic.Bool
	request           *http.Request

	responseReady chan struct{}
	response      *http.Response
	responseErr   error
}

// New builds a Call for a bidirectional-capable request: the body is backed
// by an io.Pipe so writes made via Write can be read concurrently by the
// HTTP transport while the response streams back.
func New(ctx context.Context, httpClient HTTPClient, target *url.URL, header http.Header) *Call {
	target = cloneURL(target)
	pipeReader, pipeWriter := io.Pipe()
	request := &http.Request{
		Method:        http.MethodPost,
		URL:           target,
		Header:        header.Clone(),
		Proto:         "HTTP/2.0",
		ProtoMajor:    2,
		ProtoMinor:    0,
		Body:          pipeReader,
		GetBody:       nil,
		ContentLength: -1,
		Host:          target.Host,
	}
	request = request.WithContext(ctx)
	return &Call{
		ctx:               ctx,
		httpClient:        httpClient,
		request:           request,
		requestBodyWriter: pipeWriter,
		responseReady:     make(chan struct{}),
	}
}

// Write sends one frame's worth of bytes to the server. The first call
// triggers the underlying HTTP request in a background goroutine.
func (c *Call) Write(data []byte) (int, error) {
	if c.requestSent.CompareAndSwap(false, true) {
		go c.makeRequest()
	}
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := c.requestBodyWriter.Write(data)
	if err != nil && err == io.ErrClosedPipe {
		err = io.EOF
	}
	return n, err
}

// CloseWrite half-closes the request body. Callers must call it before
// reading the response when the peer only replies after seeing END_STREAM
// on the request (unary and client-streaming calls).
func (c *Call) CloseWrite() error {
	if c.requestSent.CompareAndSwap(false, true) {
		go c.makeRequest()
		return nil
	}
	return c.requestBodyWriter.Close()
}

// Header returns the outgoing request headers, mutable until the first
// Write or CloseWrite.
func (c *Call) Header() http.Header {
	return c.request.Header
}

func (c *Call) URL() *url.URL {
	return c.request.URL
}

// Read reads from the response body, blocking until headers arrive.
func (c *Call) Read(data []byte) (int, error) {
	if err := c.BlockUntilResponseReady(); err != nil {
		return 0, err
	}
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.response.Body.Read(data)
}

// CloseRead closes the response body.
func (c *Call) CloseRead() error {
	_ = c.BlockUntilResponseReady()
	if c.response == nil {
		return nil
	}
	return c.response.Body.Close()
}

// ResponseStatusCode returns the response's HTTP status code, blocking
// until headers arrive.
func (c *Call) ResponseStatusCode() (int, error) {
	if err := c.BlockUntilResponseReady(); err != nil {
		return 0, err
	}
	return c.response.StatusCode, nil
}

// ResponseHeader returns the response HTTP headers, blocking until they
// arrive.
func (c *Call) ResponseHeader() http.Header {
	_ = c.BlockUntilResponseReady()
	if c.response != nil {
		return c.response.Header
	}
	return make(http.Header)
}

// ResponseTrailer returns the response HTTP/2 trailers. It does not wait:
// net/http populates Trailer only once the response body has been read to
// EOF, so before that the returned header is empty or incomplete.
func (c *Call) ResponseTrailer() http.Header {
	if c.response != nil {
		return c.response.Trailer
	}
	return make(http.Header)
}

// BlockUntilResponseReady waits for response headers or a request-setup
// failure, whichever comes first.
func (c *Call) BlockUntilResponseReady() error {
	select {
	case <-c.responseReady:
		return c.responseErr
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func (c *Call) makeRequest() {
	defer close(c.responseReady)
	if host := c.request.Header.Get("Host"); host != "" {
		c.request.Host = host
	}
	if c.OnRequestSend != nil {
		c.OnRequestSend(c.request)
	}
	response, err := c.httpClient.Do(c.request) //nolint:bodyclose
	if err != nil {
		c.responseErr = classifyTransportError(c.request, err)
		_ = c.CloseWrite()
		return
	}
	c.response = response
}

func cloneURL(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	out := new(url.URL)
	*out = *u
	if u.User != nil {
		out.User = new(url.Userinfo)
		*out.User = *u.User
	}
	return out
}

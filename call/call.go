// Package call implements spec.md §4.6's per-call state machine:
// Init → HeadersSent → Sending ↔ Recving → Closed(terminal), half-close
// semantics, and the streaming-kind arity constraints a call must respect.
// Grounded on the teacher's protocol/stream.go (StreamType, the four
// send/recv interleaving diagrams) generalized from a fixed four-way
// StreamType into an explicit finite-state machine driven by discrete
// events, since spec.md frames the call lifecycle as something the runtime
// itself drives rather than something net/http's Request/ResponseWriter
// already encodes.
package call

import (
	"fmt"
	"sync"

	"github.com/h2rpc/grpcore/rpc"
	"github.com/h2rpc/grpcore/status"
)

// State is one node of the call state machine.
type State int

const (
	// Init: the call exists but no HEADERS frame has been sent yet.
	Init State = iota
	// HeadersSent: the initial HEADERS frame went out; no messages yet.
	HeadersSent
	// Sending: the side is actively allowed to send a message.
	Sending
	// Recving: the side is actively allowed to receive a message.
	Recving
	// Closed: terminal. No further sends or receives are permitted.
	Closed
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case HeadersSent:
		return "headers-sent"
	case Sending:
		return "sending"
	case Recving:
		return "recving"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrClosed is returned by any operation attempted after the call has
// reached the terminal Closed state.
var ErrClosed = status.New(status.FailedPrecondition, "call: operation attempted after call was closed")

// Call drives one RPC's state machine. It does not itself move bytes; it
// only tracks which operations are legal and enforces the streaming-kind
// arity constraints from spec.md §4.6 (NonStreaming/ClientStreaming expects
// exactly one response; NonStreaming/ServerStreaming expects exactly one
// request; BiDiStreaming is unconstrained).
type Call struct {
	mu sync.Mutex

	streamingType rpc.StreamingType
	state         State

	sendHalfClosed bool // CloseSend was called, or single-request arity was met
	recvHalfClosed bool // the final element was received

	sentCount int
	recvCount int

	closeErr error // set once, on the transition into Closed
}

// New creates a Call in the Init state for the given streaming arity.
func New(streamingType rpc.StreamingType) *Call {
	return &Call{streamingType: streamingType, state: Init}
}

// State returns the call's current state.
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SendHeaders transitions Init -> HeadersSent. It is a no-op (not an error)
// if headers were already sent, since both client and server connection
// code paths may call it defensively before their first Send.
func (c *Call) SendHeaders() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return ErrClosed
	}
	if c.state == Init {
		c.state = HeadersSent
	}
	return nil
}

// BeginSend validates that a message may be sent right now, and accounts
// for the arity constraint once the send completes (call FinishSend after
// the wire write succeeds).
func (c *Call) BeginSend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return ErrClosed
	}
	if c.sendHalfClosed {
		return status.New(status.FailedPrecondition, "call: Send called after CloseSend")
	}
	if c.streamingType.ExpectsSingleRequest() && c.sentCount >= 1 {
		return status.New(status.FailedPrecondition, "call: Send called more than once on a non-client-streaming call")
	}
	c.state = Sending
	return nil
}

// FinishSend records that a BeginSend'd message was actually written, and
// auto-half-closes single-request arities after their one message.
func (c *Call) FinishSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentCount++
	if c.streamingType.ExpectsSingleRequest() {
		c.sendHalfClosed = true
	}
}

// CloseSend half-closes the send side: no more messages will be sent. It is
// idempotent.
func (c *Call) CloseSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendHalfClosed = true
}

// SendHalfClosed reports whether the send side has been half-closed,
// either explicitly via CloseSend or implicitly by arity.
func (c *Call) SendHalfClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendHalfClosed
}

// BeginRecv validates that a receive may proceed right now. Per spec.md
// §4.6's half-close rule, calling Recv again after the final element was
// already observed is not a misuse: replay reports true, and the caller
// should re-yield its cached NoMoreElems/terminal error instead of reading
// the wire again.
func (c *Call) BeginRecv() (replay bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return false, ErrClosed
	}
	if c.recvHalfClosed {
		return true, nil
	}
	if c.streamingType.ExpectsSingleResponse() && c.recvCount >= 1 {
		return true, nil
	}
	c.state = Recving
	return false, nil
}

// FinishRecv records a completed receive. isFinal indicates whether the
// observed element was a FinalElem or NoMoreElems (per the streamelem
// package): once true, the recv side is half-closed for good, matching
// spec.md §4.6's "no further element may be observed" invariant.
func (c *Call) FinishRecv(isFinal bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recvCount++
	if isFinal || c.streamingType.ExpectsSingleResponse() {
		c.recvHalfClosed = true
	}
}

// RecvHalfClosed reports whether the final element has already been
// observed on the receive side.
func (c *Call) RecvHalfClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recvHalfClosed
}

// Close transitions the call into the terminal Closed state. err is the
// call's outcome (nil for a clean OK close); it is recorded and returned by
// every subsequent call to Close.
func (c *Call) Close(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return c.closeErr
	}
	c.state = Closed
	c.closeErr = err
	return err
}

// Err returns the error Close was called with, or nil if the call is still
// open or closed cleanly.
func (c *Call) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

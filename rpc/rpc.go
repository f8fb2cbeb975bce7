// Package rpc implements spec.md §9's RPC capability: a Codec registry keyed
// by content-subtype, the StreamingType enum that classifies a call's
// request/response arity, and a BinaryRpc variant for opaque byte payloads.
// Grounded on the teacher's encoding/codec.go (Codec, RegisterCodec,
// ReadOnlyCodecs) but operating on plain []byte rather than
// mem.BufferSlice, consistent with the framing package's simplification.
package rpc

import "strings"

// Codec marshals and unmarshals RPC messages for one wire content-subtype
// ("proto", "json", ...). Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// Name is the content-subtype, used to build the grpc content-type
	// header ("application/grpc+<name>"). Must be lowercase and static.
	Name() string
}

// Registry maps a content-subtype name to the Codec that handles it.
type Registry struct {
	byName map[string]Codec
}

// NewRegistry builds a Registry from the given codecs, keyed by their
// lowercased Name().
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{byName: make(map[string]Codec, len(codecs))}
	for _, c := range codecs {
		r.Register(c)
	}
	return r
}

// Register adds or replaces the codec for its Name().
func (r *Registry) Register(c Codec) {
	if c == nil || c.Name() == "" {
		panic("rpc: cannot register a nil Codec or one with an empty Name()")
	}
	r.byName[strings.ToLower(c.Name())] = c
}

// Get returns the codec registered for the given content-subtype, or nil.
func (r *Registry) Get(name string) Codec {
	return r.byName[strings.ToLower(name)]
}

// Names returns every registered content-subtype.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// StreamingType classifies a call's request/response arity, per spec.md
// §4.6's arity constraints: NonStreaming and ClientStreaming calls expect
// exactly one response; NonStreaming and ServerStreaming calls expect
// exactly one request; BiDiStreaming is unconstrained in both directions.
type StreamingType int

const (
	NonStreaming StreamingType = iota
	ClientStreaming
	ServerStreaming
	BiDiStreaming
)

func (s StreamingType) String() string {
	switch s {
	case NonStreaming:
		return "unary"
	case ClientStreaming:
		return "client-streaming"
	case ServerStreaming:
		return "server-streaming"
	case BiDiStreaming:
		return "bidi-streaming"
	default:
		return "unknown"
	}
}

// ExpectsSingleResponse reports whether s's call arity guarantees at most
// one response message.
func (s StreamingType) ExpectsSingleResponse() bool {
	return s == NonStreaming || s == ClientStreaming
}

// ExpectsSingleRequest reports whether s's call arity guarantees at most
// one request message.
func (s StreamingType) ExpectsSingleRequest() bool {
	return s == NonStreaming || s == ServerStreaming
}

// Mirror swaps ClientStreaming and ServerStreaming, leaving NonStreaming and
// BiDiStreaming unchanged. It lets code written from one peer's perspective
// (Send = outgoing, Recv = incoming) be reused by the other peer: a
// ClientStreaming call's single-response expectation governs the client's
// Recv side, but on the server that same expectation governs Send, which is
// exactly what the call package computes from ExpectsSingleRequest/
// ExpectsSingleResponse on the mirrored type.
func (s StreamingType) Mirror() StreamingType {
	switch s {
	case ClientStreaming:
		return ServerStreaming
	case ServerStreaming:
		return ClientStreaming
	default:
		return s
	}
}

// Descriptor describes one RPC method: its fully qualified name, the codec
// used to encode/decode its messages, and its streaming arity.
type Descriptor struct {
	Name          string
	Codec         Codec
	StreamingType StreamingType
}

// binaryCodec is a Codec that treats every message as an opaque []byte,
// used by BinaryRpc for proxying or testing without a schema.
type binaryCodec struct{ name string }

func (c binaryCodec) Name() string { return c.name }

func (c binaryCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		if raw, ok := v.([]byte); ok {
			return raw, nil
		}
		panic("rpc: BinaryRpc codec requires *[]byte or []byte messages")
	}
	return *b, nil
}

func (c binaryCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		panic("rpc: BinaryRpc codec requires *[]byte messages")
	}
	*b = append((*b)[:0], data...)
	return nil
}

// BinaryCodec returns a Codec that copies bytes through unchanged, under
// the given content-subtype name, for BinaryRpc-style opaque proxying.
func BinaryCodec(name string) Codec {
	return binaryCodec{name: name}
}

// BinaryRpc builds a Descriptor for a schema-less passthrough method, per
// spec.md §9's "BinaryRpc variant for opaque bytes".
func BinaryRpc(name string, streaming StreamingType) Descriptor {
	return Descriptor{Name: name, Codec: BinaryCodec("proto"), StreamingType: streaming}
}

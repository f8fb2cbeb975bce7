// Package compress implements spec.md §4.2's compression registry and
// negotiation: identifying algorithms by their wire token, bundling a
// (compress, decompress) pair per algorithm, and running the one-shot
// negotiation a client connection performs when the first response headers
// arrive. Grounded on the teacher's compress/compression.go, reworked
// around spec.md's CompressionId/Compression/Negotation vocabulary instead
// of the teacher's CompressionPool/ReadOnlyCompressionPools.
package compress

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/golang/snappy"

	"github.com/h2rpc/grpcore/status"
)

// CompressionId is the wire token for a compression algorithm, e.g.
// "identity", "gzip", "deflate", "snappy", or a vendor name.
type CompressionId string

const (
	Identity CompressionId = "identity"
	Gzip     CompressionId = "gzip"
	Deflate  CompressionId = "deflate"
	Snappy   CompressionId = "snappy"
)

// Compression bundles an algorithm's identity with its compress/decompress
// functions. compress/decompress operate on whole messages (the framing
// layer hands us one message's bytes at a time), which is simpler than the
// teacher's streaming Compressor/Decompressor interfaces but matches
// spec.md's "(compress, decompress) pairs" wording directly.
type Compression struct {
	ID         CompressionId
	compress   func(src []byte) ([]byte, error)
	decompress func(src []byte, maxBytes int) ([]byte, error)
}

func (c Compression) Compress(src []byte) ([]byte, error) {
	return c.compress(src)
}

func (c Compression) Decompress(src []byte, maxBytes int) ([]byte, error) {
	return c.decompress(src, maxBytes)
}

// identityCompression is always implicitly supported for decoding, per
// spec.md §4.2.
var identityCompression = Compression{
	ID:         Identity,
	compress:   func(src []byte) ([]byte, error) { return src, nil },
	decompress: func(src []byte, _ int) ([]byte, error) { return src, nil },
}

// gzipWriterPool amortizes gzip.Writer allocation, mirroring the teacher's
// sync.Pool-backed CompressionPool.
var gzipWriterPool = sync.Pool{New: func() any { return gzip.NewWriter(io.Discard) }}

var gzipCompression = Compression{
	ID: Gzip,
	compress: func(src []byte) ([]byte, error) {
		var buf bytes.Buffer
		w := gzipWriterPool.Get().(*gzip.Writer)
		defer gzipWriterPool.Put(w)
		w.Reset(&buf)
		if _, err := w.Write(src); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	},
	decompress: func(src []byte, maxBytes int) ([]byte, error) {
		r, err := gzip.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return readAllLimited(r, maxBytes)
	},
}

var deflateCompression = Compression{
	ID: Deflate,
	compress: func(src []byte) ([]byte, error) {
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(src); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	},
	decompress: func(src []byte, maxBytes int) ([]byte, error) {
		r := flate.NewReader(bytes.NewReader(src))
		defer r.Close()
		return readAllLimited(r, maxBytes)
	},
}

var snappyCompression = Compression{
	ID: Snappy,
	compress: func(src []byte) ([]byte, error) {
		return snappy.Encode(nil, src), nil
	},
	decompress: func(src []byte, maxBytes int) ([]byte, error) {
		decoded, err := snappy.Decode(nil, src)
		if err != nil {
			return nil, err
		}
		if maxBytes > 0 && len(decoded) > maxBytes {
			return nil, status.Newf(status.ResourceExhausted,
				"decompressed message size %d exceeds max %d", len(decoded), maxBytes)
		}
		return decoded, nil
	},
}

func readAllLimited(r io.Reader, maxBytes int) ([]byte, error) {
	if maxBytes > 0 {
		limited := io.LimitReader(r, int64(maxBytes)+1)
		data, err := io.ReadAll(limited)
		if err != nil {
			return nil, err
		}
		if len(data) > maxBytes {
			return nil, status.Newf(status.ResourceExhausted,
				"decompressed message exceeds max %d bytes", maxBytes)
		}
		return data, nil
	}
	return io.ReadAll(r)
}

// Registry is the immutable-after-setup set of algorithms a connection
// knows how to use, keyed by wire token. Grounded on the teacher's
// ReadOnlyCompressionPools.
type Registry struct {
	byID map[CompressionId]Compression
}

// NewRegistry builds a Registry from the given algorithms, plus identity
// (always present, per spec.md §4.2).
func NewRegistry(algorithms ...Compression) *Registry {
	byID := map[CompressionId]Compression{Identity: identityCompression}
	for _, a := range algorithms {
		byID[a.ID] = a
	}
	return &Registry{byID: byID}
}

// DefaultRegistry wires gzip, deflate, and snappy alongside identity.
func DefaultRegistry() *Registry {
	return NewRegistry(gzipCompression, deflateCompression, snappyCompression)
}

func (r *Registry) Get(id CompressionId) (Compression, bool) {
	c, ok := r.byID[id]
	return c, ok
}

func (r *Registry) Contains(id CompressionId) bool {
	_, ok := r.byID[id]
	return ok
}

// Names returns the registry's algorithm tokens, identity excluded, in no
// particular order: they come from map iteration, so the order can differ
// between calls. Negotation.Offer carries an ordered list.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byID))
	for id := range r.byID {
		if id == Identity {
			continue
		}
		names = append(names, string(id))
	}
	return names
}

// Negotation implements spec.md §4.2's one-shot negotiation record: the
// algorithms we offer, the function that chooses an algorithm from the
// peer's offer, and the registry of algorithms we can decode.
type Negotation struct {
	// Offer is the non-empty ordered list of CompressionIds we advertise in
	// grpc-accept-encoding.
	Offer []CompressionId
	// Choose selects an algorithm given the peer's advertised support. It
	// returns CompressionNegotationFailed if no mutually supported algorithm
	// exists.
	Choose func(peerSupported []CompressionId) (Compression, error)
	// Supported maps every CompressionId we can decode to its Compression,
	// used for decoding whatever the peer chose to send.
	Supported *Registry
}

// CompressionNegotationFailed is returned by Choose implementations when no
// algorithm is mutually acceptable.
type CompressionNegotationFailed struct {
	PeerOffer []CompressionId
}

func (e *CompressionNegotationFailed) Error() string {
	return fmt.Sprintf("compress: negotiation failed, peer offered %v", e.PeerOffer)
}

// None only ever selects identity: "insist on no compression".
func None(registry *Registry) Negotation {
	return Negotation{
		Offer:     []CompressionId{Identity},
		Supported: registry,
		Choose: func([]CompressionId) (Compression, error) {
			return identityCompression, nil
		},
	}
}

// Require insists on a single named algorithm, failing negotiation if the
// peer doesn't support it.
func Require(registry *Registry, algo CompressionId) Negotation {
	return Negotation{
		Offer:     []CompressionId{algo},
		Supported: registry,
		Choose: func(peerSupported []CompressionId) (Compression, error) {
			for _, p := range peerSupported {
				if p == algo {
					c, _ := registry.Get(algo)
					return c, nil
				}
			}
			return Compression{}, &CompressionNegotationFailed{PeerOffer: peerSupported}
		},
	}
}

// ChooseFirst picks the first entry of ourOrder that the peer also
// supports, per spec.md §4.2's "chooseFirst(ourOrderedList)" strategy.
func ChooseFirst(registry *Registry, ourOrder []CompressionId) Negotation {
	return Negotation{
		Offer:     ourOrder,
		Supported: registry,
		Choose: func(peerSupported []CompressionId) (Compression, error) {
			peerSet := make(map[CompressionId]struct{}, len(peerSupported))
			for _, p := range peerSupported {
				peerSet[p] = struct{}{}
			}
			for _, want := range ourOrder {
				if _, ok := peerSet[want]; ok {
					c, _ := registry.Get(want)
					return c, nil
				}
			}
			return identityCompression, nil
		},
	}
}

// OfferHeader renders n.Offer as the comma-separated grpc-accept-encoding
// value.
func (n Negotation) OfferHeader() string {
	tokens := make([]string, len(n.Offer))
	for i, id := range n.Offer {
		tokens[i] = string(id)
	}
	return strings.Join(tokens, ",")
}

// ParseOffer splits a comma/space separated grpc-accept-encoding value into
// CompressionIds.
func ParseOffer(header string) []CompressionId {
	fields := strings.FieldsFunc(header, func(r rune) bool { return r == ',' || r == ' ' })
	ids := make([]CompressionId, len(fields))
	for i, f := range fields {
		ids[i] = CompressionId(f)
	}
	return ids
}

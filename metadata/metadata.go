// Package metadata implements spec.md §3's custom metadata model: header
// name validation, the ASCII/binary header distinction, and the
// reserved-"grpc-" prefix check. Grounded on the teacher's
// internal/headers/header.go (EncodeBinaryHeader/DecodeBinaryHeader,
// ProtocolHeaders) but reworked around a typed HeaderName/Header pair
// instead of raw http.Header strings, since spec.md models metadata as its
// own value type rather than leaning on net/http everywhere.
package metadata

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// reservedPrefix is never permitted on custom metadata names (spec.md §3).
const reservedPrefix = "grpc-"

// binarySuffix marks a header as carrying base64-encoded binary data.
const binarySuffix = "-bin"

// HeaderName is a validated custom metadata key: lowercase ASCII, no
// leading "grpc-", and with any trailing "-bin" already stripped (the
// caller asks separately whether the header was binary).
type HeaderName string

// NewHeaderName validates and normalizes a wire header name. It lowercases
// the input (header names are case-insensitive on the wire), strips a
// trailing "-bin" suffix, and rejects anything with the reserved "grpc-"
// prefix.
func NewHeaderName(wire string) (name HeaderName, binary bool, err error) {
	lower := strings.ToLower(wire)
	if strings.HasPrefix(lower, reservedPrefix) {
		return "", false, fmt.Errorf("metadata: header name %q uses reserved prefix %q", wire, reservedPrefix)
	}
	if strings.HasSuffix(lower, binarySuffix) {
		return HeaderName(strings.TrimSuffix(lower, binarySuffix)), true, nil
	}
	return HeaderName(lower), false, nil
}

// WireName renders name back to its wire form, appending "-bin" when the
// value is binary.
func (n HeaderName) WireName(binary bool) string {
	if binary {
		return string(n) + binarySuffix
	}
	return string(n)
}

// Header is one piece of custom metadata: either an ASCII value (printable
// ASCII, no CR/LF/NUL) or an arbitrary byte string transmitted as unpadded
// base64 (see EncodeBinary) under the "-bin" suffix.
type Header struct {
	Name   HeaderName
	ASCII  string // valid when IsBin == false
	Binary []byte // valid when IsBin == true
	IsBin  bool
}

// AsciiHeader constructs a validated ASCII metadata entry.
func AsciiHeader(name HeaderName, value string) (Header, error) {
	if err := validateASCII(value); err != nil {
		return Header{}, err
	}
	return Header{Name: name, ASCII: value}, nil
}

// BinaryHeader constructs a binary metadata entry. Any byte sequence is
// accepted; the wire form is chosen at encode time.
func BinaryHeader(name HeaderName, value []byte) Header {
	return Header{Name: name, Binary: append([]byte(nil), value...), IsBin: true}
}

func validateASCII(value string) error {
	for i := 0; i < len(value); i++ {
		b := value[i]
		if b < 0x20 || b == 0x7f {
			return fmt.Errorf("metadata: ASCII header value contains control byte 0x%02x", b)
		}
		if b > 0x7e {
			return fmt.Errorf("metadata: ASCII header value contains non-ASCII byte 0x%02x", b)
		}
	}
	return nil
}

// EncodeBinary base64-encodes data without padding, per the gRPC
// specification's recommendation for emitted values. Grounded verbatim on
// the teacher's headers.EncodeBinaryHeader.
func EncodeBinary(data []byte) string {
	return base64.RawStdEncoding.EncodeToString(data)
}

// DecodeBinary base64-decodes data, accepting either padded or unpadded
// input (spec.md §9's open question: "the spec mandates accepting both").
// Grounded on the teacher's headers.DecodeBinaryHeader.
func DecodeBinary(data string) ([]byte, error) {
	if len(data)%4 != 0 {
		return base64.RawStdEncoding.DecodeString(data)
	}
	return base64.StdEncoding.DecodeString(data)
}

// WireValue renders h's value as it should appear on the wire: the raw
// ASCII string, or the base64 encoding of the binary payload.
func (h Header) WireValue() string {
	if h.IsBin {
		return EncodeBinary(h.Binary)
	}
	return h.ASCII
}

// Metadata is an ordered collection of custom headers for one call.
// Order is preserved on build but not significant on parse (spec.md §8:
// "parse(build(H)) = H (modulo header order for custom metadata)").
type Metadata []Header

// Get returns the first header with the given name, if any.
func (m Metadata) Get(name HeaderName) (Header, bool) {
	for _, h := range m {
		if h.Name == name {
			return h, true
		}
	}
	return Header{}, false
}

// Append returns a copy of m with h appended.
func (m Metadata) Append(h Header) Metadata {
	return append(append(Metadata(nil), m...), h)
}

// ValidateCustom rejects any header name in h that begins with the reserved
// "grpc-" prefix, returning the first offending name's error. It reuses
// NewHeaderName's check so the wire layer and the standalone metadata model
// enforce the exact same rule (spec.md §3/§8: "Custom metadata names never
// begin with grpc-").
func ValidateCustom(h http.Header) error {
	for k := range h {
		if _, _, err := NewHeaderName(k); err != nil {
			return err
		}
	}
	return nil
}

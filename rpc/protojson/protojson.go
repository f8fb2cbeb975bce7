// Package protojson registers the "json" rpc.Codec, marshaling messages
// with google.golang.org/protobuf/encoding/protojson. Grounded on the
// teacher's encoding/protojson/protojson.go.
package protojson

import (
	"fmt"

	pjson "google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/protoadapt"

	"github.com/h2rpc/grpcore/rpc"
)

// Name is the wire content-subtype this codec handles.
const Name = "json"

// Codec marshals and unmarshals messages with protobuf's canonical JSON
// mapping.
type Codec struct{}

var _ rpc.Codec = Codec{}

func (Codec) Name() string { return Name }

func (Codec) Marshal(v any) ([]byte, error) {
	msg, err := messageV2Of(v)
	if err != nil {
		return nil, err
	}
	return pjson.Marshal(msg)
}

func (Codec) Unmarshal(data []byte, v any) error {
	msg, err := messageV2Of(v)
	if err != nil {
		return err
	}
	return pjson.Unmarshal(data, msg)
}

func messageV2Of(v any) (protoadapt.MessageV2, error) {
	switch m := v.(type) {
	case protoadapt.MessageV1:
		return protoadapt.MessageV2Of(m), nil
	case protoadapt.MessageV2:
		return m, nil
	default:
		return nil, fmt.Errorf("protojson: %T does not implement proto.Message", v)
	}
}

// Package protobinary registers the "proto" rpc.Codec, marshaling messages
// with google.golang.org/protobuf/proto. Grounded on the teacher's
// encoding/protobinary/protobinary.go, simplified to plain []byte since
// rpc.Codec (unlike the teacher's encoding.Codec) does not use
// mem.BufferSlice.
package protobinary

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"

	"github.com/h2rpc/grpcore/rpc"
)

// Name is the wire content-subtype this codec handles.
const Name = "proto"

// Codec marshals and unmarshals messages with binary protobuf encoding.
type Codec struct{}

var _ rpc.Codec = Codec{}

func (Codec) Name() string { return Name }

func (Codec) Marshal(v any) ([]byte, error) {
	msg, err := messageV2Of(v)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(msg)
}

func (Codec) Unmarshal(data []byte, v any) error {
	msg, err := messageV2Of(v)
	if err != nil {
		return err
	}
	return proto.Unmarshal(data, msg)
}

func messageV2Of(v any) (proto.Message, error) {
	switch m := v.(type) {
	case protoadapt.MessageV1:
		return protoadapt.MessageV2Of(m), nil
	case protoadapt.MessageV2:
		return m, nil
	default:
		return nil, fmt.Errorf("protobinary: %T does not implement proto.Message", v)
	}
}

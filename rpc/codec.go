// Package rpc exposes the control plane over gRPC. The wire format is
// JSON via a registered codec — the service is hand-wired with a
// grpc.ServiceDesc, so there is no generated protobuf code; clients set
// the "json" content subtype on every call.
package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype clients must request.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

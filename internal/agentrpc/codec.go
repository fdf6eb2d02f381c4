package agentrpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is negotiated as the gRPC content-subtype: the wire content
// type becomes "application/grpc+json". No protoc toolchain is invoked by
// this build (spec.md section 1 treats CRD/codegen as out of scope), so the
// three RPCs are framed as ordinary gRPC (HTTP/2, per-call deadlines) with
// JSON payloads instead of protobuf-encoded messages.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

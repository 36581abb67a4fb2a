package rpc

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// gobCodec implements encoding/grpc.Codec using gob instead of protobuf, so
// this package's hand-written ServiceDesc can run over a real
// google.golang.org/grpc ClientConn/Server without a protoc step. It
// registers itself under the "proto" name, which is the codec grpc.Server
// and grpc.ClientConn fall back to for the default (subtype-less) content
// type — the standard trick for swapping the wire codec without requiring
// every call site to pass grpc.CallContentSubtype.
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("rpc: gob marshal: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("rpc: gob unmarshal: %w", err)
	}
	return nil
}

func (gobCodec) Name() string {
	return "proto"
}

func init() {
	encoding.RegisterCodec(gobCodec{})
}

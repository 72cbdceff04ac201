// Package rpc defines the wire messages and gRPC service descriptors
// exchanged between Chord nodes, and between an admin client and a
// node. There is no .proto toolchain here: messages are plain Go
// structs (built on domain.Node/domain.ID/domain.Resource) carried by
// a gob-based grpc.Codec, registered once at process start. This keeps
// the logical message set of spec.md's transport table intact without
// requiring generated protobuf stubs.
package rpc

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype under which this codec is
// registered, and must be requested by callers via
// grpc.CallContentSubtype(CodecName) or grpc.ForceServerCodec.
const CodecName = "gob"

// GobCodec implements google.golang.org/grpc/encoding.Codec using
// encoding/gob. It round-trips the plain Go structs defined in this
// package without requiring generated marshal code.
type GobCodec struct{}

func (GobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("gob codec: marshal: %w", err)
	}
	return buf.Bytes(), nil
}

func (GobCodec) Unmarshal(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("gob codec: unmarshal: %w", err)
	}
	return nil
}

func (GobCodec) Name() string { return CodecName }

// init registers the codec globally the first time this package is
// imported, so both client dial options and server options can select
// it by name.
func init() {
	encoding.RegisterCodec(GobCodec{})
}

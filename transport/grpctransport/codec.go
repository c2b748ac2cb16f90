// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package grpctransport is one concrete realization of the transport.Dialer
// / transport.Peer contract (spec.md §6) as a bidi-streaming gRPC service:
// one stream per peer address, envelopes carrying the proto package's
// message field-lists. Spec.md keeps the messenger opaque; this package is
// what the cmd binary and integration tests dial against.
package grpctransport

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"

	"github.com/cubefs/mdsclient/proto"
)

const codecName = "mdsclient-gob"

func init() {
	// Register every concrete message type so gob can encode/decode the
	// envelope's Msg field, which is declared as an interface.
	gob.Register(proto.SessionMsg{})
	gob.Register(proto.RequestMsg{})
	gob.Register(proto.ReplyMsg{})
	gob.Register(proto.ForwardMsg{})
	gob.Register(proto.CapMsg{})
	gob.Register(proto.CapReleaseMsg{})
	gob.Register(proto.LeaseMsg{})
	gob.Register(proto.ReconnectMsg{})
	gob.Register(proto.MDSMapPayload{})
	gob.Register(proto.MapRequestMsg{})
	gob.Register(keepaliveMsg{})

	encoding.RegisterCodec(gobCodec{})
}

// envelope is the single message type actually sent over the gRPC stream;
// Msg holds one of the registered concrete types above.
type envelope struct {
	Msg interface{}
}

// gobCodec implements google.golang.org/grpc/encoding.Codec with gob,
// since the message union has no generated protobuf types (spec.md §1
// treats wire byte layout as out of scope; gob gives us a real, working
// wire format without hand-maintaining .proto files).
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return codecName }

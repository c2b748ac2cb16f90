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

package grpctransport

import (
	"google.golang.org/grpc"
)

// StreamFunc handles one accepted bidi stream, reading envelopes sent by
// the remote peer and writing envelopes back with ServerStream.Send. It is the
// server-side mirror of Dialer, used by test fakes that stand in for an
// MDS (spec.md's protocol is client-core-only; the MDS side is out of
// scope, but tests need something real to dial).
type StreamFunc func(s *ServerStream) error

// Server registers the Messenger service on a *grpc.Server.
type Server struct {
	fn StreamFunc
}

func NewServer(fn StreamFunc) *Server {
	return &Server{fn: fn}
}

func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

func (s *Server) Exchange(stream grpc.ServerStream) error {
	return s.fn(&ServerStream{stream: stream})
}

// ServerStream is the minimal read/write handle StreamFunc gets.
type ServerStream struct {
	stream grpc.ServerStream
}

func (s *ServerStream) Recv() (interface{}, error) {
	env := &envelope{}
	if err := s.stream.RecvMsg(env); err != nil {
		return nil, err
	}
	return env.Msg, nil
}

func (s *ServerStream) Send(msg interface{}) error {
	return s.stream.SendMsg(&envelope{Msg: msg})
}

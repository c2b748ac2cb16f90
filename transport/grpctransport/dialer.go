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
	"context"
	"io"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cubefs/mdsclient/transport"
)

// Dialer implements transport.Dialer over grpc.ClientConn, one bidi stream
// per peer address. ConnID is minted once per Dialer; it is not sent to
// peers.
type Dialer struct {
	ConnID      uuid.UUID
	DialOptions []grpc.DialOption
}

func NewDialer(opts ...grpc.DialOption) *Dialer {
	return &Dialer{ConnID: uuid.New(), DialOptions: opts}
}

func (d *Dialer) Dial(ctx context.Context, addr string, handler transport.Handler) (transport.Peer, error) {
	span := trace.SpanFromContextSafe(ctx)

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, d.DialOptions...)

	conn, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		span.Errorf("grpctransport: dial %s failed: %s", addr, err)
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := conn.NewStream(streamCtx, &grpc.StreamDesc{
		StreamName:    methodName,
		ServerStreams: true,
		ClientStreams: true,
	}, fullMethod)
	if err != nil {
		cancel()
		conn.Close()
		return nil, err
	}

	p := &peer{
		addr:   addr,
		conn:   conn,
		stream: stream,
		cancel: cancel,
	}
	go p.recvLoop(handler)
	return p, nil
}

type peer struct {
	addr   string
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func (p *peer) Send(ctx context.Context, msg transport.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return io.ErrClosedPipe
	}
	return p.stream.SendMsg(&envelope{Msg: msg})
}

func (p *peer) Keepalive(ctx context.Context) error {
	return p.Send(ctx, keepaliveMsg{})
}

func (p *peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	return p.conn.Close()
}

func (p *peer) recvLoop(handler transport.Handler) {
	for {
		env := &envelope{}
		if err := p.stream.RecvMsg(env); err != nil {
			handler.PeerReset()
			return
		}
		handler.Dispatch(env.Msg)
	}
}

// keepaliveMsg is the sentinel envelope payload for Keepalive, matching
// the spec's "lightweight liveness probe that does not count as
// application traffic" framing.
type keepaliveMsg struct{}

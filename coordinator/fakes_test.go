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

package coordinator

import (
	"context"
	"sync"

	"github.com/cubefs/mdsclient/proto"
	"github.com/cubefs/mdsclient/transport"
)

// fakePeer records every message Send delivers, for assertions, and lets
// tests drive inbound traffic by calling handler.Dispatch directly.
type fakePeer struct {
	mu      sync.Mutex
	sent    []transport.Message
	closed  bool
	sendErr error
}

func (p *fakePeer) Send(ctx context.Context, msg transport.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *fakePeer) Keepalive(ctx context.Context) error { return nil }

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) Sent() []transport.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]transport.Message, len(p.sent))
	copy(out, p.sent)
	return out
}

// fakeDialer hands out one fakePeer per address and remembers the handler
// each Dial call registered, so a test can later call handler.Dispatch to
// simulate an inbound message.
type fakeDialer struct {
	mu       sync.Mutex
	peers    map[string]*fakePeer
	handlers map[string]transport.Handler
	dialErr  error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		peers:    make(map[string]*fakePeer),
		handlers: make(map[string]transport.Handler),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, addr string, handler transport.Handler) (transport.Peer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	p := &fakePeer{}
	d.peers[addr] = p
	d.handlers[addr] = handler
	return p, nil
}

func (d *fakeDialer) handlerFor(addr string) transport.Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers[addr]
}

func (d *fakeDialer) peerFor(addr string) *fakePeer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peers[addr]
}

// fakeSource counts RequestMap calls without ever delivering a map.
type fakeSource struct {
	mu    sync.Mutex
	calls int
}

func (s *fakeSource) RequestMap(ctx context.Context, epochHint proto.Epoch) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testMap(epoch proto.Epoch, ranks ...proto.Rank) *proto.MDSMapPayload {
	addr := make(map[proto.Rank]string, len(ranks))
	state := make(map[proto.Rank]proto.MDSState, len(ranks))
	for _, r := range ranks {
		addr[r] = "mds-" + string(rune('a'+int(r)))
		state[r] = proto.MDSStateUpActive
	}
	return &proto.MDSMapPayload{
		Epoch:          epoch,
		MaxMDS:         int32(len(ranks)),
		Addr:           addr,
		State:          state,
		SessionTimeout: 0,
	}
}

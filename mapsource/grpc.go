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

package mapsource

import (
	"context"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/cubefs/mdsclient/proto"
	"github.com/cubefs/mdsclient/transport"
)

// OnMap is called with every MDS_MAP payload the monitor pushes.
type OnMap func(ctx context.Context, payload *proto.MDSMapPayload) error

// GRPCSource is a Source that reaches the monitor over the same
// transport.Dialer/Peer contract a Coordinator uses for MDS sessions
// (spec.md §6 keeps the monitor link an opaque messenger channel too).
// It dials lazily on first use; PeerReset drops the peer, and the next
// RequestMap redials.
type GRPCSource struct {
	addr   string
	dialer transport.Dialer
	onMap  OnMap

	mu   sync.Mutex
	peer transport.Peer
}

// NewGRPCSource builds a monitor-facing Source. onMap is invoked inline
// from the dialer's receive loop, so it must not block long -- the
// caller typically wires it to Coordinator.HandleMap.
func NewGRPCSource(addr string, dialer transport.Dialer, onMap OnMap) *GRPCSource {
	return &GRPCSource{addr: addr, dialer: dialer, onMap: onMap}
}

func (g *GRPCSource) RequestMap(ctx context.Context, epochHint proto.Epoch) error {
	span := trace.SpanFromContextSafe(ctx)

	peer, err := g.ensurePeer(ctx)
	if err != nil {
		span.Warnf("mapsource: dial monitor %s failed: %s", g.addr, err)
		return err
	}
	return peer.Send(ctx, proto.MapRequestMsg{EpochHint: epochHint})
}

func (g *GRPCSource) ensurePeer(ctx context.Context) (transport.Peer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.peer != nil {
		return g.peer, nil
	}
	peer, err := g.dialer.Dial(ctx, g.addr, &monitorHandler{src: g})
	if err != nil {
		return nil, err
	}
	g.peer = peer
	return peer, nil
}

type monitorHandler struct {
	src *GRPCSource
}

func (h *monitorHandler) Dispatch(msg transport.Message) {
	ctx := context.Background()
	switch m := msg.(type) {
	case *proto.MDSMapPayload:
		_ = h.src.onMap(ctx, m)
	case proto.MDSMapPayload:
		_ = h.src.onMap(ctx, &m)
	default:
		trace.SpanFromContextSafe(ctx).Warnf("mapsource: unexpected message type %T from monitor", msg)
	}
}

func (h *monitorHandler) PeerReset() {
	h.src.mu.Lock()
	h.src.peer = nil
	h.src.mu.Unlock()
}

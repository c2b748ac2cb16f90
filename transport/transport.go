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

// Package transport specifies, and does not implement more than it must,
// the messenger contract of spec.md §6: a lossless, ordered, reconnecting
// duplex channel per peer address. The Coordinator only ever depends on the
// interfaces in this file; see grpctransport for one concrete realization.
package transport

import "context"

// Message is any of the wire message field-lists in package proto
// (SessionMsg, RequestMsg, ReplyMsg, ForwardMsg, CapMsg, CapReleaseRecord
// batches, LeaseMsg, ReconnectMsg). The messenger does not interpret it.
type Message interface{}

// Handler receives messages and reset notifications for one peer. It is
// supplied by the caller of Dial and must not block for long -- dispatch
// runs on a messenger thread, per spec.md §5.
type Handler interface {
	Dispatch(msg Message)
	PeerReset()
}

// Peer is one connected, ordered, lossless duplex channel to an MDS
// address. Send delivers msg in FIFO order relative to other Sends on the
// same Peer; Keepalive is a lightweight liveness probe that does not count
// as application traffic.
type Peer interface {
	Send(ctx context.Context, msg Message) error
	Keepalive(ctx context.Context) error
	Close() error
}

// Dialer connects to a peer address and wires its inbound traffic to
// handler. Re-dialing the same address after a Close/reset is always
// legal and returns a fresh Peer.
type Dialer interface {
	Dial(ctx context.Context, addr string, handler Handler) (Peer, error)
}

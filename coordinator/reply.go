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
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/cubefs/mdsclient/capcache"
	"github.com/cubefs/mdsclient/proto"
	"github.com/cubefs/mdsclient/session"
)

// HandleReply is spec.md §4.4's handle_reply.
func (co *Coordinator) HandleReply(ctx context.Context, fromRank proto.Rank, msg proto.ReplyMsg) {
	span := trace.SpanFromContextSafe(ctx)

	req, ok := co.Requests.Lookup(msg.Tid)
	if !ok {
		span.Warnf("reply for unknown tid %d from mds %d, dropping", msg.Tid, fromRank)
		return
	}

	if req.IsDuplicate(msg.Safe) {
		span.Warnf("duplicate %s reply for tid %d, dropping", safeLabel(msg.Safe), msg.Tid)
		return
	}

	if msg.Safe {
		req.MarkSafe()
		co.Requests.Remove(msg.Tid)
		if req.GotUnsafe() {
			if sess := co.Sessions.Get(req.CurrentMDS()); sess != nil {
				sess.UnlinkUnsafe(msg.Tid)
			}
		}
		if co.Stopping() && co.Requests.Len() == 0 {
			co.signalShutdownQuiescent()
		}
		return
	}

	// An ESTALE retry is decided before the reply is recorded: MarkUnsafe
	// would make the request Finished and doRequest would not resend it.
	if req.ShouldRetryStale(msg.Result) {
		co.doRequest(ctx, req)
		return
	}

	// Re-parent to the session that actually replied -- the reply MDS may
	// differ from last-known if forwarding raced (spec.md §4.4).
	req.SetCurrentMDS(fromRank)
	req.MarkUnsafe(&msg)

	sess := co.Sessions.GetOrCreate(fromRank)
	sess.LinkUnsafe(msg.Tid)

	if msg.SnapBlob != nil {
		realm := proto.Ino(0)
		if msg.Inode != nil {
			realm = msg.Inode.Ino
		}
		co.SnapRealms.ApplyBlob(realm, msg.SnapBlob)
	}

	if in := msg.Inode; in != nil {
		cached := co.Caps.GetOrCreate(in.Ino)
		cached.Size = in.Size
		cached.Mtime = in.Mtime
		cached.Atime = in.Atime
	}

	sess.TopUp()
}

func safeLabel(safe bool) string {
	if safe {
		return "safe"
	}
	return "unsafe"
}

// HandleForward applies a REQUEST_FORWARD message, per spec.md §4.4
// Forward handling.
func (co *Coordinator) HandleForward(ctx context.Context, fromRank proto.Rank, msg proto.ForwardMsg) {
	req, ok := co.Requests.Lookup(msg.Tid)
	if !ok {
		return
	}

	hasSession := co.Sessions.Get(msg.NextMDS) != nil
	accepted, resend := req.AcceptForward(msg.FwdSeq, msg.NextMDS, msg.MustResend, hasSession)
	if !accepted {
		return
	}
	if resend {
		co.doRequest(ctx, req)
		return
	}
	// Accepted without resend: session already switched inside
	// AcceptForward; nothing further to send until the next reply.
}

// HandleCap applies an inbound CAPS message: grant, revoke, or flush-ack,
// per spec.md §4.3 handle_grant and the flush-before-ack REDESIGN FLAG.
func (co *Coordinator) HandleCap(ctx context.Context, rank proto.Rank, msg proto.CapMsg) {
	span := trace.SpanFromContextSafe(ctx)

	if msg.Op == proto.CapOpFlushAck {
		co.Caps.AckFlush(rank, msg.Ino, msg.Seq)
		span.Infof("mds %d flushack ino %d seq %d", rank, msg.Ino, msg.Seq)
		return
	}

	sess := co.Sessions.GetOrCreate(rank)
	inode := co.Caps.GetOrCreate(msg.Ino)

	flush, nothingWanted := co.Caps.HandleGrant(inode, sess, msg)
	if nothingWanted {
		span.Infof("mds %d cap %d on ino %d: nothing wanted, acking without change", rank, msg.CapID, msg.Ino)
		co.ackCap(ctx, sess, msg)
		return
	}
	if flush != 0 {
		co.flushThenAck(ctx, sess, inode, rank, msg)
		return
	}
	co.ackCap(ctx, sess, msg)
}

func (co *Coordinator) flushThenAck(ctx context.Context, sess *session.Session, inode *capcache.Inode, rank proto.Rank, msg proto.CapMsg) {
	seq := co.Caps.BeginFlush(inode, rank)
	trace.SpanFromContextSafe(ctx).Infof("flushing dirty bits on ino %d before acking revoke (flush_seq=%d)", inode.Ino, seq)
	co.ackCap(ctx, sess, msg)
}

func (co *Coordinator) ackCap(ctx context.Context, sess *session.Session, msg proto.CapMsg) {
	peer := sess.Peer()
	if peer == nil {
		return
	}
	if err := peer.Send(ctx, msg); err != nil {
		trace.SpanFromContextSafe(ctx).Warnf("cap ack send failed: %s", err)
	}
}

// HandleLease applies an inbound LEASE message (spec.md §4.5).
func (co *Coordinator) HandleLease(ctx context.Context, rank proto.Rank, msg proto.LeaseMsg) {
	ackRevoke := co.Leases.HandleLease(msg.Ino, msg.DentryName, msg, time.Now())
	if !ackRevoke {
		return
	}
	sess := co.Sessions.Get(rank)
	if sess == nil {
		return
	}
	peer := sess.Peer()
	if peer == nil {
		return
	}
	ack := proto.LeaseMsg{Action: proto.LeaseRevokeAck, Ino: msg.Ino, DentryName: msg.DentryName}
	if err := peer.Send(ctx, ack); err != nil {
		trace.SpanFromContextSafe(ctx).Warnf("lease revoke ack send failed: %s", err)
	}
}

func (co *Coordinator) signalShutdownQuiescent() {
	select {
	case co.shutdownQuiescent <- struct{}{}:
	default:
	}
}

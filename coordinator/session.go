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

	"github.com/cubefs/mdsclient/proto"
	"github.com/cubefs/mdsclient/session"
	"github.com/cubefs/mdsclient/transport"
)

// openSession dials the MDS address from the current map and sends
// SESSION_OPEN, per spec.md §4.2 open_session. Callers hold no lock on
// sess; state transitions are serialized by sess.Mu internally.
func (co *Coordinator) openSession(ctx context.Context, sess *session.Session) {
	span := trace.SpanFromContextSafe(ctx)

	m := co.CurrentMap()
	addr := m.AddrOf(sess.MDSRank)
	if addr == "" || co.cfg.Dialer == nil {
		span.Warnf("no address/dialer for mds rank %d", sess.MDSRank)
		return
	}

	sess.BeginOpen(time.Now())

	peer, err := co.cfg.Dialer.Dial(ctx, addr, &sessionHandler{co: co, rank: sess.MDSRank})
	if err != nil {
		span.Errorf("dial mds %d at %s failed: %s", sess.MDSRank, addr, err)
		return
	}
	sess.SetPeer(peer)

	if err := peer.Send(ctx, proto.SessionMsg{Op: proto.SessionOpen}); err != nil {
		span.Errorf("send SESSION_OPEN to mds %d failed: %s", sess.MDSRank, err)
	}
}

// HandleSession applies an inbound SESSION message, per spec.md §4.2 and
// the session state machine table.
func (co *Coordinator) HandleSession(ctx context.Context, rank proto.Rank, msg proto.SessionMsg) {
	sess := co.Sessions.GetOrCreate(rank)
	sess.TouchInbound()

	switch msg.Op {
	case proto.SessionOpenAck:
		woken := sess.HandleOpenAck()
		for _, tid := range woken {
			if r, ok := co.Requests.Lookup(tid); ok {
				co.doRequest(ctx, r)
			}
		}
	case proto.SessionRenewCaps:
		m := co.CurrentMap()
		wasStale := sess.HandleRenewCaps(m.SessionTimeout(), time.Now())
		if wasStale {
			// spec.md S6: "since was stale, wake all cap-waiters on all
			// inodes of this session." This core has no per-inode
			// wait-queue of its own (that lives in the application layer
			// above the cache); the transition is only logged here and no
			// waiters are woken.
			trace.SpanFromContextSafe(ctx).Infof("mds %d caps fresh again after stale", rank)
		}
	case proto.SessionStale:
		sess.HandleStale()
		if peer := sess.Peer(); peer != nil {
			sess.SetRenewRequested(time.Now())
			_ = peer.Send(ctx, proto.SessionMsg{Op: proto.SessionRenewCaps})
		}
	case proto.SessionClose, proto.SessionCloseAck:
		// A confirmed close is terminal: the session leaves the table.
		sess.BeginClosing()
		co.Sessions.Remove(rank)
		if peer := sess.Peer(); peer != nil {
			_ = peer.Close()
		}
	case proto.SessionRecallState:
		co.trimCaps(ctx, rank, sess, msg.MaxCaps)
	default:
		trace.SpanFromContextSafe(ctx).Warnf("unknown session op %d from mds %d", msg.Op, rank)
	}
}

// trimCaps is spec.md §4.2's capability trimming on SESSION_RECALL_STATE:
// drop caps that are neither dirty nor the sole holder of their inode's
// data, stopping once the session's cap count is at or below maxCaps. A
// maxCaps of 0 trims nothing.
func (co *Coordinator) trimCaps(ctx context.Context, rank proto.Rank, sess *session.Session, maxCaps uint32) {
	trace.SpanFromContextSafe(ctx).Infof("mds %d recalls caps down to %d", rank, maxCaps)
	if maxCaps == 0 {
		return
	}
	for _, c := range sess.CapsSnapshot() {
		if uint32(sess.CapCount()) <= maxCaps {
			return
		}
		in, ok := co.Caps.Get(c.Ino)
		if !ok {
			continue
		}
		if in.DirtyCaps() != 0 {
			continue
		}
		if in.CapCount() <= 1 {
			// sole cap on this inode; dropping it would lose data only
			// this cap holds.
			continue
		}
		co.Caps.Remove(in, sess)
	}
}

// beginReconnect drives spec.md §4.2's reconnect protocol steps 1-5: park
// the session in reconnecting and rekick its unsafe requests, zero every
// held cap's seq so grants issued across the gap aren't mistaken for
// replays, encode a RECONNECT message for every cap and known snap realm,
// send it over a live peer (redialing if the reset killed the old one),
// and complete back to open on success.
func (co *Coordinator) beginReconnect(ctx context.Context, rank proto.Rank) {
	span := trace.SpanFromContextSafe(ctx)
	sess := co.Sessions.Get(rank)
	if sess == nil {
		return
	}

	replay := sess.EnterReconnecting()
	span.Infof("mds %d reset, replaying %d unsafe requests", rank, len(replay))
	co.Rekick(ctx, rank, true)

	peer := sess.Peer()
	if peer == nil {
		m := co.CurrentMap()
		addr := m.AddrOf(rank)
		if addr == "" || co.cfg.Dialer == nil {
			span.Warnf("no address/dialer for mds %d, deferring reconnect", rank)
			return
		}
		var err error
		peer, err = co.cfg.Dialer.Dial(ctx, addr, &sessionHandler{co: co, rank: rank})
		if err != nil {
			span.Errorf("redial mds %d at %s for reconnect failed: %s", rank, addr, err)
			return
		}
		sess.SetPeer(peer)
	}

	sess.ZeroSeqForReconnect()
	msg := proto.ReconnectMsg{
		Caps:       co.encodeReconnectCaps(sess.CapsSnapshot()),
		SnapRealms: co.SnapRealms.Records(),
	}
	// spec.md §4.2 step 5's "if the pre-sized buffer is too small,
	// geometrically expand and retry" has no analogue here: encoding goes
	// straight to the messenger, with no fixed-size buffer to underestimate.
	if err := peer.Send(ctx, msg); err != nil {
		span.Errorf("send RECONNECT to mds %d failed: %s", rank, err)
		return
	}

	woken := sess.CompleteReconnect()
	for _, tid := range woken {
		if r, ok := co.Requests.Lookup(tid); ok {
			co.doRequest(ctx, r)
		}
	}
}

// encodeReconnectCaps builds the per-cap records of a RECONNECT message
// (spec.md §4.2 step 3). DentryPath is left empty: this core tracks caps
// by inode, not by dentry path, so it has nothing to offer there.
func (co *Coordinator) encodeReconnectCaps(caps []*session.Cap) []proto.ReconnectCapRecord {
	out := make([]proto.ReconnectCapRecord, 0, len(caps))
	for _, c := range caps {
		rec := proto.ReconnectCapRecord{
			Ino:    c.Ino,
			CapID:  c.CapID,
			Wanted: c.Wanted,
			Issued: c.Issued,
		}
		if in, ok := co.Caps.Get(c.Ino); ok {
			rec.Size = in.Size
			rec.Mtime = in.Mtime
			rec.Atime = in.Atime
		}
		out = append(out, rec)
	}
	return out
}

// sessionHandler adapts one session's inbound stream to the Coordinator's
// dispatch table (spec.md §4.5 "Inbound dispatch").
type sessionHandler struct {
	co   *Coordinator
	rank proto.Rank
}

func (h *sessionHandler) Dispatch(msg transport.Message) {
	ctx := context.Background()
	switch m := msg.(type) {
	case proto.SessionMsg:
		h.co.HandleSession(ctx, h.rank, m)
	case *proto.SessionMsg:
		h.co.HandleSession(ctx, h.rank, *m)
	case proto.ReplyMsg:
		h.co.HandleReply(ctx, h.rank, m)
	case *proto.ReplyMsg:
		h.co.HandleReply(ctx, h.rank, *m)
	case proto.ForwardMsg:
		h.co.HandleForward(ctx, h.rank, m)
	case *proto.ForwardMsg:
		h.co.HandleForward(ctx, h.rank, *m)
	case proto.CapMsg:
		h.co.HandleCap(ctx, h.rank, m)
	case *proto.CapMsg:
		h.co.HandleCap(ctx, h.rank, *m)
	case proto.LeaseMsg:
		h.co.HandleLease(ctx, h.rank, m)
	case *proto.LeaseMsg:
		h.co.HandleLease(ctx, h.rank, *m)
	case *proto.MDSMapPayload:
		_ = h.co.HandleMap(ctx, m)
	case proto.MDSMapPayload:
		_ = h.co.HandleMap(ctx, &m)
	default:
		trace.SpanFromContextSafe(ctx).Warnf("unknown message type %T from mds %d", msg, h.rank)
	}
}

func (h *sessionHandler) PeerReset() {
	h.co.beginReconnect(context.Background(), h.rank)
}

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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/mdsclient/proto"
	"github.com/cubefs/mdsclient/request"
	"github.com/cubefs/mdsclient/session"
)

func newTestCoordinator(dialer *fakeDialer, src *fakeSource) *Coordinator {
	return New(Config{
		TickInterval:     time.Hour, // tests drive ticks manually
		MountTimeout:     time.Second,
		ReleaseBatchSize: 4,
		Source:           src,
		Dialer:           dialer,
	})
}

func TestHandleMapStoresEpoch(t *testing.T) {
	dialer := newFakeDialer()
	co := newTestCoordinator(dialer, &fakeSource{})
	ctx := context.Background()

	require.Nil(t, co.CurrentMap())

	require.NoError(t, co.HandleMap(ctx, testMap(1, 0)))
	require.Equal(t, proto.Epoch(1), co.CurrentMap().Epoch())

	require.NoError(t, co.HandleMap(ctx, testMap(2, 0, 1)))
	require.Equal(t, proto.Epoch(2), co.CurrentMap().Epoch())
}

func TestSubmitOpensSessionAndSendsOnAck(t *testing.T) {
	dialer := newFakeDialer()
	co := newTestCoordinator(dialer, &fakeSource{})
	ctx := context.Background()

	require.NoError(t, co.HandleMap(ctx, testMap(1, 0)))

	req := request.Create(proto.OpGetattr, proto.ModeAny)
	req.Primary = proto.PathTarget{Kind: proto.PathKindInode, Ino: 42}
	require.NoError(t, co.Submit(ctx, req, nil))

	// No session existed yet: doRequest should have dialed and sent
	// SESSION_OPEN, and parked the request rather than sending it.
	peer := dialer.peerFor("mds-a")
	require.NotNil(t, peer)
	require.Len(t, peer.Sent(), 1)
	sessMsg, ok := peer.Sent()[0].(proto.SessionMsg)
	require.True(t, ok)
	require.Equal(t, proto.SessionOpen, sessMsg.Op)

	// Ack the open: the parked request should now be sent as a REQUEST.
	handler := dialer.handlerFor("mds-a")
	handler.Dispatch(proto.SessionMsg{Op: proto.SessionOpenAck})

	sent := peer.Sent()
	require.Len(t, sent, 2)
	reqMsg, ok := sent[1].(proto.RequestMsg)
	require.True(t, ok)
	require.Equal(t, req.Tid(), reqMsg.Tid)
}

func TestHandleReplySafeRemovesFromRegistry(t *testing.T) {
	dialer := newFakeDialer()
	co := newTestCoordinator(dialer, &fakeSource{})
	ctx := context.Background()
	require.NoError(t, co.HandleMap(ctx, testMap(1, 0)))

	req := request.Create(proto.OpGetattr, proto.ModeAny)
	req.Primary = proto.PathTarget{Kind: proto.PathKindInode, Ino: 7}
	require.NoError(t, co.Submit(ctx, req, nil))

	handler := dialer.handlerFor("mds-a")
	handler.Dispatch(proto.SessionMsg{Op: proto.SessionOpenAck})
	require.Equal(t, 1, co.Requests.Len())

	tid := req.Tid()
	handler.Dispatch(proto.ReplyMsg{Tid: tid, Safe: false, Result: 0})
	require.True(t, req.GotUnsafe())
	require.Equal(t, 1, co.Requests.Len())

	handler.Dispatch(proto.ReplyMsg{Tid: tid, Safe: true, Result: 0})
	require.True(t, req.GotSafe())
	require.Equal(t, 0, co.Requests.Len())
}

func TestHandleReplyUnknownTidDropped(t *testing.T) {
	dialer := newFakeDialer()
	co := newTestCoordinator(dialer, &fakeSource{})
	ctx := context.Background()
	require.NoError(t, co.HandleMap(ctx, testMap(1, 0)))

	handler := &sessionHandler{co: co, rank: 0}
	// No panic, no-op.
	handler.Dispatch(proto.ReplyMsg{Tid: 999, Safe: true})
}

func TestHandleReplyESTALERetargetsAndRetries(t *testing.T) {
	dialer := newFakeDialer()
	co := newTestCoordinator(dialer, &fakeSource{})
	ctx := context.Background()
	require.NoError(t, co.HandleMap(ctx, testMap(1, 0)))

	req := request.Create(proto.OpGetattr, proto.ModeAny)
	req.Primary = proto.PathTarget{Kind: proto.PathKindInode, Ino: 7}
	require.NoError(t, co.Submit(ctx, req, nil))

	handlerA := dialer.handlerFor("mds-a")
	handlerA.Dispatch(proto.SessionMsg{Op: proto.SessionOpenAck})

	tid := req.Tid()
	handlerA.Dispatch(proto.ReplyMsg{Tid: tid, Safe: false, Result: request.ESTALE})

	// ShouldRetryStale switches Mode to Auth and clears the current MDS;
	// doRequest then re-enters and, since the only auth-capable choice is
	// an active rank, resends -- still present in the registry.
	require.Equal(t, 1, req.NumStale())
	require.Equal(t, 1, co.Requests.Len())
}

func TestHandleForwardSwitchesSession(t *testing.T) {
	dialer := newFakeDialer()
	co := newTestCoordinator(dialer, &fakeSource{})
	ctx := context.Background()
	require.NoError(t, co.HandleMap(ctx, testMap(1, 0, 1)))

	req := request.Create(proto.OpGetattr, proto.ModeAny)
	req.Primary = proto.PathTarget{Kind: proto.PathKindInode, Ino: 7}
	// Pin the first send to rank 0 (mds-a); ModeAny would otherwise pick
	// a random active rank.
	req.SetResendMDS(0)
	require.NoError(t, co.Submit(ctx, req, nil))
	dialer.handlerFor("mds-a").Dispatch(proto.SessionMsg{Op: proto.SessionOpenAck})

	// Rank 1 has no session yet; a forward with must_resend=false and no
	// existing session must fall back to resend.
	handlerA := dialer.handlerFor("mds-a")
	handlerA.Dispatch(proto.ForwardMsg{Tid: req.Tid(), NextMDS: 1, FwdSeq: 1, MustResend: false})

	require.Equal(t, proto.Rank(1), req.ResendMDS())
}

func TestHandleCapGrantAndRevokeFlush(t *testing.T) {
	dialer := newFakeDialer()
	co := newTestCoordinator(dialer, &fakeSource{})
	ctx := context.Background()
	require.NoError(t, co.HandleMap(ctx, testMap(1, 0)))

	sess := co.Sessions.GetOrCreate(0)
	sess.SetPeer(&fakePeer{})
	inode := co.Caps.GetOrCreate(100)
	inode.SetWanted(1, 0x3)

	co.HandleCap(ctx, 0, proto.CapMsg{Ino: 100, CapID: 1, Issued: 0x3, Seq: 1})
	cap, ok := inode.Cap(0)
	require.True(t, ok)
	require.Equal(t, uint32(0x3), cap.Issued)

	inode.MarkDirty(0x1)
	co.HandleCap(ctx, 0, proto.CapMsg{Ino: 100, CapID: 1, Issued: 0x2, Seq: 2})
	flushSeq := co.Caps.NextFlushSeq() - 1
	require.Equal(t, uint64(1), flushSeq)
	require.False(t, co.Caps.WaitFlushed(flushSeq))

	co.HandleCap(ctx, 0, proto.CapMsg{Op: proto.CapOpFlushAck, Ino: 100, Seq: flushSeq})
	require.True(t, co.Caps.WaitFlushed(flushSeq))
}

func TestRekickResendsAfterReconnect(t *testing.T) {
	dialer := newFakeDialer()
	co := newTestCoordinator(dialer, &fakeSource{})
	ctx := context.Background()
	require.NoError(t, co.HandleMap(ctx, testMap(1, 0)))

	req := request.Create(proto.OpGetattr, proto.ModeAny)
	req.Primary = proto.PathTarget{Kind: proto.PathKindInode, Ino: 7}
	require.NoError(t, co.Submit(ctx, req, nil))
	dialer.handlerFor("mds-a").Dispatch(proto.SessionMsg{Op: proto.SessionOpenAck})

	sess := co.Sessions.Get(0)
	require.NotNil(t, sess)
	require.Equal(t, session.StateOpen, sess.State())

	peer := dialer.peers["mds-a"]
	handler := dialer.handlerFor("mds-a").(*sessionHandler)
	handler.PeerReset()

	// beginReconnect runs synchronously against the still-live fake peer:
	// it parks the session in reconnecting (the rekick parks the in-flight
	// request on it), sends RECONNECT, and completes straight back to open,
	// which resends the parked request.
	sent := peer.Sent()
	require.Len(t, sent, 4)
	_, ok := sent[len(sent)-2].(proto.ReconnectMsg)
	require.True(t, ok)
	resent, ok := sent[len(sent)-1].(proto.RequestMsg)
	require.True(t, ok)
	require.Equal(t, req.Tid(), resent.Tid)
	require.Equal(t, session.StateOpen, sess.State())

	co.Rekick(ctx, 0, false)
}

func TestPreemptiveReleaseSendsLeaseMsg(t *testing.T) {
	dialer := newFakeDialer()
	co := newTestCoordinator(dialer, &fakeSource{})
	ctx := context.Background()
	require.NoError(t, co.HandleMap(ctx, testMap(1, 0)))

	sess := co.Sessions.GetOrCreate(0)
	p := &fakePeer{}
	sess.SetPeer(p)

	co.PreemptiveRelease(ctx, 0, 7, "child")
	sent := p.Sent()
	require.Len(t, sent, 1)
	lease, ok := sent[0].(proto.LeaseMsg)
	require.True(t, ok)
	require.Equal(t, proto.LeaseRelease, lease.Action)
	require.Equal(t, "child", lease.DentryName)
}

func TestHandleLeaseRevokeSendsAck(t *testing.T) {
	dialer := newFakeDialer()
	co := newTestCoordinator(dialer, &fakeSource{})
	ctx := context.Background()
	require.NoError(t, co.HandleMap(ctx, testMap(1, 0)))

	sess := co.Sessions.GetOrCreate(0)
	p := &fakePeer{}
	sess.SetPeer(p)
	co.Leases.Grant(7, "child", 0, 1, time.Minute, time.Now())

	co.HandleLease(ctx, 0, proto.LeaseMsg{Action: proto.LeaseRevoke, Ino: 7, DentryName: "child"})

	sent := p.Sent()
	require.Len(t, sent, 1)
	ack, ok := sent[0].(proto.LeaseMsg)
	require.True(t, ok)
	require.Equal(t, proto.LeaseRevokeAck, ack.Action)
}

func TestPreUmountReturnsImmediatelyWhenIdle(t *testing.T) {
	dialer := newFakeDialer()
	co := newTestCoordinator(dialer, &fakeSource{})
	ctx := context.Background()
	require.NoError(t, co.PreUmount(ctx))
	require.True(t, co.Stopping())
}

func TestSubmitRejectedAfterStopping(t *testing.T) {
	dialer := newFakeDialer()
	co := newTestCoordinator(dialer, &fakeSource{})
	ctx := context.Background()
	require.NoError(t, co.PreUmount(ctx))

	req := request.Create(proto.OpGetattr, proto.ModeAny)
	err := co.Submit(ctx, req, nil)
	require.Equal(t, errShutdown, err)
}

func TestPreUmountDropsLeases(t *testing.T) {
	dialer := newFakeDialer()
	co := newTestCoordinator(dialer, &fakeSource{})
	ctx := context.Background()
	co.Leases.Grant(7, "child", 0, 1, time.Minute, time.Now())

	require.NoError(t, co.PreUmount(ctx))

	require.Empty(t, co.Leases.leases)
	ackRevoke := co.Leases.HandleLease(7, "child", proto.LeaseMsg{Action: proto.LeaseRenew}, time.Now())
	require.False(t, ackRevoke)
}

func TestHandleMapAddrChangeClosesPeerAndRedials(t *testing.T) {
	dialer := newFakeDialer()
	co := newTestCoordinator(dialer, &fakeSource{})
	ctx := context.Background()
	require.NoError(t, co.HandleMap(ctx, testMap(1, 0)))

	req := request.Create(proto.OpGetattr, proto.ModeAny)
	req.Primary = proto.PathTarget{Kind: proto.PathKindInode, Ino: 7}
	require.NoError(t, co.Submit(ctx, req, nil))
	dialer.handlerFor("mds-a").Dispatch(proto.SessionMsg{Op: proto.SessionOpenAck})

	sess := co.Sessions.Get(0)
	require.NotNil(t, sess)
	require.Equal(t, session.StateOpen, sess.State())
	peer := dialer.peerFor("mds-a")
	require.NotNil(t, peer)

	payload := &proto.MDSMapPayload{
		Epoch:  2,
		MaxMDS: 1,
		Addr:   map[proto.Rank]string{0: "mds-a-new"},
		State:  map[proto.Rank]proto.MDSState{0: proto.MDSStateUpActive},
	}
	require.NoError(t, co.HandleMap(ctx, payload))

	require.True(t, peer.closed)
	// AddrChanged reset the session to new and rekicked the in-flight
	// request, which redialed against the updated address.
	require.NotNil(t, dialer.peerFor("mds-a-new"))
}

func TestHandleMapCrossedActiveFlushesReleases(t *testing.T) {
	dialer := newFakeDialer()
	co := newTestCoordinator(dialer, &fakeSource{})
	ctx := context.Background()

	payload := &proto.MDSMapPayload{
		Epoch:  1,
		MaxMDS: 1,
		Addr:   map[proto.Rank]string{0: "mds-a"},
		State:  map[proto.Rank]proto.MDSState{0: proto.MDSStateUpReplay},
	}
	require.NoError(t, co.HandleMap(ctx, payload))

	sess := co.Sessions.GetOrCreate(0)
	peer := &fakePeer{}
	sess.SetPeer(peer)
	sess.BufferRelease(proto.CapReleaseRecord{Ino: 1, CapID: 1})
	sess.TopUp()

	active := &proto.MDSMapPayload{
		Epoch:  2,
		MaxMDS: 1,
		Addr:   map[proto.Rank]string{0: "mds-a"},
		State:  map[proto.Rank]proto.MDSState{0: proto.MDSStateUpActive},
	}
	require.NoError(t, co.HandleMap(ctx, active))

	sent := peer.Sent()
	require.NotEmpty(t, sent)
	_, ok := sent[len(sent)-1].(proto.CapReleaseMsg)
	require.True(t, ok)
}

func TestSessionRecallStateTrimsCaps(t *testing.T) {
	dialer := newFakeDialer()
	co := newTestCoordinator(dialer, &fakeSource{})
	ctx := context.Background()
	require.NoError(t, co.HandleMap(ctx, testMap(1, 0)))

	sess := co.Sessions.GetOrCreate(0)
	sess.SetPeer(&fakePeer{})

	for ino := proto.Ino(1); ino <= 3; ino++ {
		inode := co.Caps.GetOrCreate(ino)
		inode.SetWanted(1, 0x3)
		co.Caps.Add(inode, sess, 0x3, 1)
		// give each inode a second holder so it isn't the sole cap.
		otherSess := co.Sessions.GetOrCreate(1)
		co.Caps.Add(inode, otherSess, 0x3, 1)
	}
	require.Equal(t, 3, sess.CapCount())

	co.HandleSession(ctx, 0, proto.SessionMsg{Op: proto.SessionRecallState, MaxCaps: 1})
	require.LessOrEqual(t, sess.CapCount(), 1)
}

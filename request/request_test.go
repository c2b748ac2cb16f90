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

package request

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/mdsclient/errors"
	"github.com/cubefs/mdsclient/mdsmap"
	"github.com/cubefs/mdsclient/proto"
	"github.com/cubefs/mdsclient/session"
)

func TestCreateDefaults(t *testing.T) {
	r := Create(proto.OpLookup, proto.ModeAny)
	require.EqualValues(t, -1, r.ResendMDS())
	require.EqualValues(t, -1, r.CurrentMDS())
	require.False(t, r.Finished())
}

func TestTimedOutRespectsZeroTimeout(t *testing.T) {
	r := Create(proto.OpLookup, proto.ModeAny)
	r.StampStarted(time.Now().Add(-time.Hour))
	require.False(t, r.TimedOut(time.Now()))
}

func TestTimedOutAfterDeadline(t *testing.T) {
	r := Create(proto.OpLookup, proto.ModeAny)
	r.Timeout = time.Second
	r.StampStarted(time.Now().Add(-time.Hour))
	require.True(t, r.TimedOut(time.Now()))
}

func TestDuplicateReplyRejected(t *testing.T) {
	r := Create(proto.OpCreate, proto.ModeAny)
	r.MarkUnsafe(&proto.ReplyMsg{Result: 0})
	require.True(t, r.IsDuplicate(false))
	require.False(t, r.IsDuplicate(true))

	r.MarkSafe()
	require.True(t, r.IsDuplicate(true))
}

func TestAcceptForwardIgnoresStaleSeq(t *testing.T) {
	r := Create(proto.OpUnlink, proto.ModeAny)
	r.SetCurrentMDS(0)

	accept, resend := r.AcceptForward(1, 1, false, true)
	require.True(t, accept)
	require.False(t, resend)
	require.EqualValues(t, 1, r.CurrentMDS())
	require.EqualValues(t, 1, r.NumFwd())

	accept, _ = r.AcceptForward(1, 2, false, true)
	require.False(t, accept)
	require.EqualValues(t, 1, r.CurrentMDS())
}

func TestAcceptForwardMustResendDropsSession(t *testing.T) {
	r := Create(proto.OpUnlink, proto.ModeAny)
	r.SetCurrentMDS(0)

	accept, resend := r.AcceptForward(1, 1, true, true)
	require.True(t, accept)
	require.True(t, resend)
	require.EqualValues(t, -1, r.CurrentMDS())
	require.EqualValues(t, 1, r.ResendMDS())
}

func TestAcceptForwardNoSessionForcesResend(t *testing.T) {
	r := Create(proto.OpUnlink, proto.ModeAny)
	r.SetCurrentMDS(0)

	accept, resend := r.AcceptForward(1, 1, false, false)
	require.True(t, accept)
	require.True(t, resend)
	require.EqualValues(t, 1, r.ResendMDS())
}

func TestShouldRetryStaleUpToTwice(t *testing.T) {
	r := Create(proto.OpGetattr, proto.ModeAny)

	require.True(t, r.ShouldRetryStale(ESTALE))
	require.EqualValues(t, 1, r.NumStale())
	require.Equal(t, proto.ModeAuth, r.Mode)

	require.True(t, r.ShouldRetryStale(ESTALE))
	require.EqualValues(t, 2, r.NumStale())

	require.False(t, r.ShouldRetryStale(ESTALE))
	require.EqualValues(t, 0, r.NumStale())
}

func TestShouldRetryStaleResetsOnSuccess(t *testing.T) {
	r := Create(proto.OpGetattr, proto.ModeAny)
	r.ShouldRetryStale(ESTALE)
	require.False(t, r.ShouldRetryStale(0))
	require.EqualValues(t, 0, r.NumStale())
}

func TestBuildCapReleasesFiltersUnlessWanted(t *testing.T) {
	drops := []DropSet{
		{Ino: 1, CapID: 10, Seq: 1, UnlessWanted: proto.CapFileShared, CurrentWanted: proto.CapFileShared},
		{Ino: 2, CapID: 20, Seq: 2, UnlessWanted: proto.CapFileShared, CurrentWanted: 0},
	}
	out := BuildCapReleases(drops)
	require.Len(t, out, 1)
	require.EqualValues(t, 2, out[0].Ino)
}

func TestRegistryAssignsMonotonicTids(t *testing.T) {
	reg := NewRegistry()
	r1 := Create(proto.OpLookup, proto.ModeAny)
	r2 := Create(proto.OpLookup, proto.ModeAny)

	tid1 := reg.Insert(r1)
	tid2 := reg.Insert(r2)
	require.EqualValues(t, 1, tid1)
	require.EqualValues(t, 2, tid2)
	require.EqualValues(t, 1, reg.OldestTid())
}

func TestRegistryOldestTidZeroWhenEmpty(t *testing.T) {
	reg := NewRegistry()
	require.EqualValues(t, 0, reg.OldestTid())
}

func TestRegistryKickCandidatesBatches(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < 25; i++ {
		r := Create(proto.OpLookup, proto.ModeAny)
		r.SetCurrentMDS(0)
		reg.Insert(r)
	}
	batches := reg.KickCandidates(0, false)
	require.Len(t, batches, 3)
	require.Len(t, batches[0], KickBatchSize)
	require.Len(t, batches[2], 5)
}

func TestRegistryKickCandidatesSkipsSafe(t *testing.T) {
	reg := NewRegistry()
	r := Create(proto.OpLookup, proto.ModeAny)
	r.SetCurrentMDS(0)
	r.MarkUnsafe(&proto.ReplyMsg{})
	r.MarkSafe()
	reg.Insert(r)

	require.Empty(t, reg.KickCandidates(0, false))
}

type fakeAuth struct {
	cap  *session.Cap
	rank proto.Rank
	has  bool
}

func (f fakeAuth) AuthCap() (*session.Cap, bool) {
	if f.cap == nil {
		return nil, false
	}
	return f.cap, true
}

func (f fakeAuth) AnyCapRank() (proto.Rank, bool) { return f.rank, f.has }

func mapWithActive(ranks ...proto.Rank) *mdsmap.Map {
	state := make(map[proto.Rank]proto.MDSState, len(ranks))
	addr := make(map[proto.Rank]string, len(ranks))
	for _, r := range ranks {
		state[r] = proto.MDSStateUpActive
		addr[r] = "mds"
	}
	m, err := mdsmap.Decode(&proto.MDSMapPayload{Epoch: 1, State: state, Addr: addr})
	if err != nil {
		panic(err)
	}
	return m
}

func TestChooseMDSRandomMode(t *testing.T) {
	r := Create(proto.OpLookup, proto.ModeRandom)
	m := mapWithActive(0)
	sessions := session.NewTable(64)

	rank, err := ChooseMDS(r, m, sessions, nil, nil)
	require.NoError(t, err)
	require.EqualValues(t, 0, rank)
}

func TestChooseMDSRandomModeNoActiveIsTransientMap(t *testing.T) {
	r := Create(proto.OpLookup, proto.ModeRandom)
	m := mapWithActive()
	sessions := session.NewTable(64)

	_, err := ChooseMDS(r, m, sessions, nil, nil)
	require.ErrorIs(t, err, errors.TransientMap)
}

func TestChooseMDSResendHonoredWithSession(t *testing.T) {
	r := Create(proto.OpLookup, proto.ModeAny)
	r.SetResendMDS(3)
	m := mapWithActive(0)
	sessions := session.NewTable(64)
	sessions.GetOrCreate(3)

	rank, err := ChooseMDS(r, m, sessions, nil, nil)
	require.NoError(t, err)
	require.EqualValues(t, 3, rank)
}

func TestChooseMDSAuthCapWins(t *testing.T) {
	r := Create(proto.OpSetattr, proto.ModeAuth)
	m := mapWithActive(0, 1)
	sessions := session.NewTable(64)
	auth := fakeAuth{cap: &session.Cap{MDSRank: 1}}

	rank, err := ChooseMDS(r, m, sessions, auth, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, rank)
}

func TestChooseMDSFragmentDistributionPicksReplica(t *testing.T) {
	r := Create(proto.OpReaddir, proto.ModeAny)
	m := mapWithActive(0, 1, 2)
	sessions := session.NewTable(64)
	frag := &Fragment{Ndist: 2, Replicas: []proto.Rank{1, 2}, AuthRank: 0}

	rank, err := ChooseMDS(r, m, sessions, nil, frag)
	require.NoError(t, err)
	require.Contains(t, []proto.Rank{1, 2}, rank)
}

func TestChooseMDSFragmentFallsBackToAuth(t *testing.T) {
	r := Create(proto.OpReaddir, proto.ModeAuth)
	m := mapWithActive(0)
	sessions := session.NewTable(64)
	frag := &Fragment{Ndist: 0, AuthRank: 0}

	rank, err := ChooseMDS(r, m, sessions, nil, frag)
	require.NoError(t, err)
	require.EqualValues(t, 0, rank)
}

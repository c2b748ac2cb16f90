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

package capcache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/mdsclient/proto"
	"github.com/cubefs/mdsclient/session"
)

func TestAddLinksBothSides(t *testing.T) {
	c := New()
	in := c.GetOrCreate(100)
	s := session.New(1, 64)

	granted := c.Add(in, s, proto.CapFileShared, 1)
	require.NotNil(t, granted)
	require.Equal(t, uint32(proto.CapFileShared), in.CapsIssued())

	held, ok := s.GetCap(100)
	require.True(t, ok)
	require.Same(t, granted, held)
}

func TestAddIsIdempotentPerRank(t *testing.T) {
	c := New()
	in := c.GetOrCreate(1)
	s := session.New(0, 64)

	first := c.Add(in, s, proto.CapPin, 1)
	second := c.Add(in, s, proto.CapPin|proto.CapReadCache, 2)
	require.Same(t, first, second)
	require.Equal(t, 1, in.CapCount())
	require.EqualValues(t, proto.CapPin|proto.CapReadCache, first.Issued)
}

func TestFirstCapBecomesAuth(t *testing.T) {
	c := New()
	in := c.GetOrCreate(1)
	s := session.New(0, 64)
	c.Add(in, s, proto.CapPin, 1)

	auth, ok := in.AuthCap()
	require.True(t, ok)
	require.EqualValues(t, 0, auth.MDSRank)
}

func TestRemoveReelectsAuth(t *testing.T) {
	c := New()
	in := c.GetOrCreate(1)
	s0 := session.New(0, 64)
	s1 := session.New(1, 64)
	c.Add(in, s0, proto.CapPin, 1)
	c.Add(in, s1, proto.CapPin, 1)

	c.Remove(in, s0)
	auth, ok := in.AuthCap()
	require.True(t, ok)
	require.EqualValues(t, 1, auth.MDSRank)
	require.Equal(t, 1, in.CapCount())

	c.Remove(in, s1)
	_, ok = in.AuthCap()
	require.False(t, ok)
}

func TestHandleGrantNothingWantedWhenNoOpenerWants(t *testing.T) {
	c := New()
	in := c.GetOrCreate(1)
	s := session.New(0, 64)

	flush, nothing := c.HandleGrant(in, s, proto.CapMsg{Issued: proto.CapFileShared})
	require.True(t, nothing)
	require.Zero(t, flush)
}

func TestHandleGrantNewMDSAdds(t *testing.T) {
	c := New()
	in := c.GetOrCreate(1)
	in.SetWanted(0, proto.CapFileShared)
	s := session.New(0, 64)

	flush, nothing := c.HandleGrant(in, s, proto.CapMsg{Issued: proto.CapFileShared, Seq: 3})
	require.False(t, nothing)
	require.Zero(t, flush)
	require.Equal(t, 1, in.CapCount())
}

func TestHandleGrantRevokeFlushesDirtyBits(t *testing.T) {
	c := New()
	in := c.GetOrCreate(1)
	in.SetWanted(0, proto.CapFileShared|proto.CapWriteExcl)
	s := session.New(0, 64)
	c.Add(in, s, proto.CapFileShared|proto.CapWriteExcl, 1)
	in.MarkDirty(proto.CapWriteExcl)

	// MDS now only grants CapFileShared: CapWriteExcl is revoked
	flush, nothing := c.HandleGrant(in, s, proto.CapMsg{Issued: proto.CapFileShared, Seq: 2})
	require.False(t, nothing)
	require.EqualValues(t, proto.CapWriteExcl, flush)
	require.EqualValues(t, proto.CapFileShared, in.CapsIssued())
}

func TestHandleGrantNonRevokeReplacesMask(t *testing.T) {
	c := New()
	in := c.GetOrCreate(1)
	in.SetWanted(0, proto.CapFileShared|proto.CapWriteExcl)
	s := session.New(0, 64)
	c.Add(in, s, proto.CapFileShared, 1)

	flush, nothing := c.HandleGrant(in, s, proto.CapMsg{Issued: proto.CapFileShared | proto.CapWriteExcl, Seq: 2})
	require.False(t, nothing)
	require.Zero(t, flush)
	require.EqualValues(t, proto.CapFileShared|proto.CapWriteExcl, in.CapsIssued())
}

func TestCapsWantedDropsWriteBufferWithoutDirtyPages(t *testing.T) {
	in := NewInode(1)
	in.SetWanted(0, proto.CapWriteBuffer|proto.CapPin)
	require.EqualValues(t, proto.CapPin, in.CapsWanted())

	in.SetDirtyPages(true)
	require.EqualValues(t, proto.CapWriteBuffer|proto.CapPin, in.CapsWanted())
}

func TestFlushSequencingWaitsForAllSessions(t *testing.T) {
	c := New()
	in1 := c.GetOrCreate(1)
	in2 := c.GetOrCreate(2)
	in1.MarkDirty(proto.CapWriteExcl)
	in2.MarkDirty(proto.CapWriteExcl)

	seq1 := c.BeginFlush(in1, 0)
	seq2 := c.BeginFlush(in2, 1)
	require.True(t, seq2 > seq1)

	require.False(t, c.WaitFlushed(seq2))

	c.AckFlush(0, 1, seq1)
	require.False(t, c.WaitFlushed(seq2))

	c.AckFlush(1, 2, seq2)
	require.True(t, c.WaitFlushed(seq2))
}

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

// Package mdsmap is the cluster map view: an immutable snapshot of MDS
// cluster state at a given epoch.
package mdsmap

import (
	"math/rand"
	"time"

	"github.com/cubefs/mdsclient/proto"
)

// Map is an immutable snapshot; replacing one requires building a new Map
// and swapping the Coordinator's pointer to it, never mutating in place.
type Map struct {
	epoch            proto.Epoch
	maxMDS           int32
	addr             map[proto.Rank]string
	state            map[proto.Rank]proto.MDSState
	sessionTimeout   time.Duration
	sessionAutoclose time.Duration
	maxFileSize      uint64
	root             proto.Rank
}

// Decode builds a Map from an already-typed payload. The wire byte layout
// is out of scope for this core; the messenger hands us typed fields.
func Decode(payload *proto.MDSMapPayload) (*Map, error) {
	if payload == nil {
		return nil, ErrNilPayload
	}
	m := &Map{
		epoch:            payload.Epoch,
		maxMDS:           payload.MaxMDS,
		addr:             make(map[proto.Rank]string, len(payload.Addr)),
		state:            make(map[proto.Rank]proto.MDSState, len(payload.State)),
		sessionTimeout:   payload.SessionTimeout,
		sessionAutoclose: payload.SessionAutoclose,
		maxFileSize:      payload.MaxFileSize,
		root:             payload.Root,
	}
	for r, a := range payload.Addr {
		m.addr[r] = a
	}
	for r, s := range payload.State {
		m.state[r] = s
	}
	return m, nil
}

func (m *Map) Epoch() proto.Epoch { return m.epoch }

func (m *Map) MaxRank() int32 {
	if m == nil {
		return -1
	}
	return m.maxMDS
}

func (m *Map) StateOf(rank proto.Rank) proto.MDSState {
	if m == nil {
		return proto.MDSStateDown
	}
	if s, ok := m.state[rank]; ok {
		return s
	}
	return proto.MDSStateDown
}

func (m *Map) AddrOf(rank proto.Rank) string {
	if m == nil {
		return ""
	}
	return m.addr[rank]
}

func (m *Map) SessionTimeout() time.Duration {
	if m == nil {
		return 0
	}
	return m.sessionTimeout
}

func (m *Map) SessionAutoclose() time.Duration {
	if m == nil {
		return 0
	}
	return m.sessionAutoclose
}

func (m *Map) MaxFileSize() uint64 {
	if m == nil {
		return 0
	}
	return m.maxFileSize
}

func (m *Map) Root() proto.Rank {
	if m == nil {
		return -1
	}
	return m.root
}

// RandomActiveRank returns a uniformly chosen rank whose state is
// up:active, or -1 if none qualifies.
func (m *Map) RandomActiveRank() proto.Rank {
	if m == nil {
		return -1
	}
	var active []proto.Rank
	for r, s := range m.state {
		if s == proto.MDSStateUpActive {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return -1
	}
	return active[rand.Intn(len(active))]
}

// IsAtLeastActive reports whether state s is ordered >= up:active in the
// spec's state progression (replay < reconnect < rejoin < active).
func IsAtLeastActive(s proto.MDSState) bool {
	return s == proto.MDSStateUpActive || s == proto.MDSStateStopping
}

// IsAtLeastReconnect reports state s is ordered >= up:reconnect.
func IsAtLeastReconnect(s proto.MDSState) bool {
	switch s {
	case proto.MDSStateUpReconnect, proto.MDSStateUpRejoin, proto.MDSStateUpActive, proto.MDSStateStopping:
		return true
	default:
		return false
	}
}

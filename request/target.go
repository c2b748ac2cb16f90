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
	"math/rand"

	mdserrors "github.com/cubefs/mdsclient/errors"
	"github.com/cubefs/mdsclient/mdsmap"
	"github.com/cubefs/mdsclient/proto"
	"github.com/cubefs/mdsclient/session"
)

// Fragment is a directory's hash-distribution entry, consulted by
// choose_mds for hash-based directory access (spec.md §4.4 Target
// selection). A nil Fragment means the request does not target a
// hash-sharded directory.
type Fragment struct {
	Ndist    int
	Replicas []proto.Rank
	AuthRank proto.Rank
}

// AuthSource resolves a target inode's authoritative-MDS information,
// implemented by capcache.Inode; kept as an interface here so package
// request does not need to import capcache for types it only reads.
type AuthSource interface {
	AuthCap() (*session.Cap, bool)
	AnyCapRank() (proto.Rank, bool)
}

// ChooseMDS is spec.md §4.4's choose_mds(req). sessions and m let it check
// whether a resend target or random pick is currently viable; auth (the
// target inode, or its parent if the target itself has none) and frag
// (non-nil only for hash-based directory access) supply the rest.
func ChooseMDS(req *Request, m *mdsmap.Map, sessions *session.Table, auth AuthSource, frag *Fragment) (proto.Rank, error) {
	if resend := req.ResendMDS(); resend >= 0 {
		if sessions.Get(resend) != nil || mdsmap.IsAtLeastReconnect(m.StateOf(resend)) {
			return resend, nil
		}
	}

	if req.Mode == proto.ModeRandom {
		if r := m.RandomActiveRank(); r >= 0 {
			return r, nil
		}
		return -1, mdserrors.TransientMap
	}

	if frag != nil {
		if frag.Ndist > 0 && req.Mode == proto.ModeAny {
			return frag.Replicas[rand.Intn(len(frag.Replicas))], nil
		}
		// Positive distribution absent, or mode pins to a single replica:
		// fall through to authoritative-MDS mode with the fragment's
		// authoritative MDS (spec.md §4.4).
		return frag.AuthRank, nil
	}

	if auth != nil {
		if cap, ok := auth.AuthCap(); ok {
			return cap.MDSRank, nil
		}
		if rank, ok := auth.AnyCapRank(); ok {
			return rank, nil
		}
	}

	// No auth_cap and no fragment information: fall back to random,
	// mirroring the AUTH-mode fallback chain's terminal case.
	if r := m.RandomActiveRank(); r >= 0 {
		return r, nil
	}
	return -1, mdserrors.TransientMap
}

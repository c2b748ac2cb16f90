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

package session

import "github.com/cubefs/mdsclient/proto"

// Cap is one (inode, mds) capability grant. It is reachable from its
// owning Session's cap set (this package) and from its Inode's cap map
// (package capcache); both must be updated together under both locks, per
// spec.md's cyclic-reference discipline in Design Notes §9 -- implemented
// here with the id-based variant that discipline explicitly allows: Cap
// carries Ino and MDSRank rather than a pointer back to its Inode/Session,
// so there is no import cycle between session and capcache.
type Cap struct {
	CapID       proto.CapID
	Ino         proto.Ino
	MDSRank     proto.Rank
	Issued      uint32
	Implemented uint32
	Wanted      uint32
	Seq         uint64
	IssueSeq    uint64
	Mseq        uint64
	// Gen is the session's cap_gen at grant time; a Cap with Gen <
	// session.CapGen is dead and must be removed on first observation.
	Gen uint64
}

// Dead reports whether c was granted under a generation the session has
// since moved past (spec.md invariant 6).
func (c *Cap) Dead(sessionGen uint64) bool {
	return c.Gen < sessionGen
}

// RevokedBits returns the bits grant.Issued removes relative to what we
// currently hold.
func RevokedBits(held, granted uint32) uint32 {
	return held &^ granted
}

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

import "github.com/cubefs/mdsclient/proto"

// DropSet is the per-inode drop masks consulted when building cap
// releases: inode_drop/dentry_drop/old_* in spec.md §4.4's encoding
// contract, each vetoed by its _unless companion mask.
type DropSet struct {
	Ino           proto.Ino
	CapID         proto.CapID
	MigrateSeq    uint64
	Seq           uint64
	UnlessWanted  uint32
	CurrentWanted uint32
}

// BuildCapReleases filters drops whose UnlessWanted bits are still wanted,
// per spec.md §4.4 ("filtered by _unless").
func BuildCapReleases(drops []DropSet) []proto.CapReleaseRecord {
	var out []proto.CapReleaseRecord
	for _, d := range drops {
		if d.UnlessWanted != 0 && d.CurrentWanted&d.UnlessWanted != 0 {
			continue
		}
		out = append(out, proto.CapReleaseRecord{
			Ino:        d.Ino,
			CapID:      d.CapID,
			MigrateSeq: d.MigrateSeq,
			Seq:        d.Seq,
		})
	}
	return out
}

// Encode builds the outbound REQUEST message for r, per spec.md §4.4's
// encoding contract. oldestClientTid and epoch are sampled by the caller;
// doRequest reads them without holding the Coordinator mutex.
func Encode(r *Request, oldestClientTid proto.Tid, epoch proto.Epoch, releases []proto.CapReleaseRecord, lockedDir bool, hintIno proto.Ino) proto.RequestMsg {
	var flags proto.RequestFlags
	if r.GotUnsafe() {
		flags |= proto.FlagReplay
	}
	if lockedDir {
		flags |= proto.FlagWantDentry
	}

	attempts := r.Attempts()
	var numRetry uint32
	if attempts > 0 {
		numRetry = attempts - 1
	}

	msg := proto.RequestMsg{
		Tid:             r.Tid(),
		OldestClientTid: oldestClientTid,
		MDSMapEpoch:     epoch,
		Op:              r.Op,
		CallerUID:       r.CallerUID,
		CallerGID:       r.CallerGID,
		Args:            r.Args,
		Primary:         r.Primary,
		Secondary:       r.Secondary,
		CapReleases:     releases,
		Flags:           flags,
		NumFwd:          r.NumFwd(),
		NumRetry:        numRetry,
	}
	if flags&proto.FlagReplay != 0 {
		msg.HintIno = hintIno
	}
	return msg
}

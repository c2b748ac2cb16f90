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

package mdsmap

import "github.com/cubefs/mdsclient/proto"

// RankChange describes what happened to one rank between two map epochs,
// per the transition rules of on_new_map (spec.md §4.1). The Coordinator
// acts on these; Diff itself only observes.
type RankChange struct {
	Rank proto.Rank

	AddrChanged     bool
	EnteredReconnect bool
	CrossedActive   bool // old.state < active <= new.state
}

// Diff compares old and updated and returns, for every rank touched by
// either map, what changed. old may be nil (first map ever received).
func Diff(old, updated *Map) []RankChange {
	if updated == nil {
		return nil
	}
	maxRank := updated.MaxRank()
	if old != nil && old.MaxRank() > maxRank {
		maxRank = old.MaxRank()
	}

	var changes []RankChange
	for r := proto.Rank(0); r < maxRank; r++ {
		oldAddr := old.AddrOf(r)
		newAddr := updated.AddrOf(r)
		oldState := old.StateOf(r)
		newState := updated.StateOf(r)

		c := RankChange{Rank: r}
		if oldAddr != newAddr {
			c.AddrChanged = true
		}
		if newState == proto.MDSStateUpReconnect {
			c.EnteredReconnect = true
		}
		if !IsAtLeastActive(oldState) && IsAtLeastActive(newState) {
			c.CrossedActive = true
		}
		if c.AddrChanged || c.EnteredReconnect || c.CrossedActive {
			changes = append(changes, c)
		}
	}
	return changes
}

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
	"sort"
	"sync"

	"github.com/cubefs/mdsclient/proto"
)

// Registry is the Coordinator's request map: a tid-ordered collection
// supporting range scan from a given key, per Design Notes §9's
// "radix-indexed request map" recommendation. A plain map plus a sorted
// key scan on demand gives the same ordered-range-scan behavior without a
// bespoke radix tree, since the request map's size tracks in-flight
// requests (thousands, not millions).
type Registry struct {
	mu      sync.Mutex
	lastTid proto.Tid
	byTid   map[proto.Tid]*Request
}

func NewRegistry() *Registry {
	return &Registry{byTid: make(map[proto.Tid]*Request)}
}

// NextTid allocates the next monotonic tid (spec.md invariant 1).
func (reg *Registry) NextTid() proto.Tid {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.lastTid++
	return reg.lastTid
}

// Insert assigns tid (if not already assigned) and links req into the map.
func (reg *Registry) Insert(req *Request) proto.Tid {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if req.Tid() == 0 {
		reg.lastTid++
		req.SetTid(reg.lastTid)
	}
	reg.byTid[req.Tid()] = req
	return req.Tid()
}

// Lookup returns the request for tid, or false if none is registered --
// spec.md §4.4 handle_reply: "ignore unknown tids (log-and-drop)."
func (reg *Registry) Lookup(tid proto.Tid) (*Request, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.byTid[tid]
	return r, ok
}

// Remove unregisters tid, e.g. once a request reaches safe.
func (reg *Registry) Remove(tid proto.Tid) {
	reg.mu.Lock()
	delete(reg.byTid, tid)
	reg.mu.Unlock()
}

// OldestTid returns the minimum key in the request map, or 0 if empty
// (spec.md §4.4 Oldest-tid tracking).
func (reg *Registry) OldestTid() proto.Tid {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.byTid) == 0 {
		return 0
	}
	var min proto.Tid
	first := true
	for tid := range reg.byTid {
		if first || tid < min {
			min = tid
			first = false
		}
	}
	return min
}

// Len reports the number of registered requests.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.byTid)
}

// sortedTids returns every registered tid in ascending order.
func (reg *Registry) sortedTids() []proto.Tid {
	tids := make([]proto.Tid, 0, len(reg.byTid))
	for tid := range reg.byTid {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
	return tids
}

// KickBatchSize is the chunk size spec.md §4.4's Rekick walks the request
// map in ("batches of 10 by ascending tid").
const KickBatchSize = 10

// KickCandidates returns, in ascending-tid batches of KickBatchSize, every
// registered request not yet safe whose current session (or, if all, whose
// forwarder) is mds -- spec.md §4.4 kick_requests(mds, all). The caller
// (Coordinator) re-enters do_request for each returned request and may
// yield between batches.
func (reg *Registry) KickCandidates(mds proto.Rank, all bool) [][]*Request {
	reg.mu.Lock()
	tids := reg.sortedTids()
	reqs := make([]*Request, 0, len(tids))
	for _, tid := range tids {
		r := reg.byTid[tid]
		if r.GotSafe() {
			continue
		}
		match := r.CurrentMDS() == mds
		if all {
			if from, ok := r.ForwardedFrom(); ok && from == mds {
				match = true
			}
		}
		if match {
			reqs = append(reqs, r)
		}
	}
	reg.mu.Unlock()

	var batches [][]*Request
	for len(reqs) > 0 {
		n := KickBatchSize
		if n > len(reqs) {
			n = len(reqs)
		}
		batches = append(batches, reqs[:n])
		reqs = reqs[n:]
	}
	return batches
}

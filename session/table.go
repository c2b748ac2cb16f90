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

import (
	"sync"

	"github.com/cubefs/mdsclient/proto"
	"github.com/cubefs/mdsclient/util"
)

// Table is the sparse map from MDS rank to Session of spec.md §3,
// implemented as a dense, rank-indexed slice grown by powers of two, per
// Design Notes §9 ("power-of-two session vector -> any dense rank-indexed
// container with amortized O(1) grow") and grounded on the teacher's
// allocator.go dense-container idiom.
type Table struct {
	mu               sync.RWMutex
	sessions         []*Session
	releaseBatchSize int
}

func NewTable(releaseBatchSize int) *Table {
	return &Table{releaseBatchSize: releaseBatchSize}
}

// Get returns the session for rank, or nil if none has been registered.
func (t *Table) Get(rank proto.Rank) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(rank) < 0 || int(rank) >= len(t.sessions) {
		return nil
	}
	return t.sessions[rank]
}

// GetOrCreate returns the existing session for rank, or lazily creates one
// (spec.md §3: "A Session is created lazily on first send to an MDS or on
// first inbound message from it"), growing the backing slice to the next
// power of two >= rank+1 if needed (spec.md §8 boundary behavior).
func (t *Table) GetOrCreate(rank proto.Rank) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.growLocked(int(rank) + 1)
	if t.sessions[rank] == nil {
		t.sessions[rank] = New(rank, t.releaseBatchSize)
	}
	return t.sessions[rank]
}

func (t *Table) growLocked(minLen int) {
	if minLen <= len(t.sessions) {
		return
	}
	newLen := util.NextPowerOfTwo(minLen)
	grown := make([]*Session, newLen)
	copy(grown, t.sessions)
	t.sessions = grown
}

// Remove clears the slot for rank, e.g. once a SESSION_CLOSE is confirmed.
func (t *Table) Remove(rank proto.Rank) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(rank) >= 0 && int(rank) < len(t.sessions) {
		t.sessions[rank] = nil
	}
}

// Range calls f for every non-nil session, in ascending rank order. f runs
// on a snapshot taken under the lock, so it may call back into the Table.
func (t *Table) Range(f func(*Session)) {
	t.mu.RLock()
	snapshot := make([]*Session, len(t.sessions))
	copy(snapshot, t.sessions)
	t.mu.RUnlock()

	for _, s := range snapshot {
		if s != nil {
			f(s)
		}
	}
}

// Len reports the capacity of the backing slice (not the number of
// non-nil sessions), useful for asserting the power-of-two growth
// invariant in tests.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

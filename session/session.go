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
	"time"

	"golang.org/x/time/rate"

	"github.com/cubefs/mdsclient/proto"
	"github.com/cubefs/mdsclient/transport"
)

// Session is one (Coordinator, MDS rank) relationship: its state machine,
// cap set, request wait-queue, and cap-release buffers (spec.md §3/§4.2).
//
// Lock hierarchy (spec.md §5): Mu is acquired after the Coordinator mutex
// and the snap-realm rwlock and before any inode lock; CapLock is acquired
// after the inode lock and before the inode's unsafe lock. A caller never
// holds CapLock while taking Mu.
type Session struct {
	MDSRank proto.Rank

	Mu              sync.Mutex
	state           State
	seq             uint64
	ttl             time.Time
	renewRequested  time.Time
	waiting         []proto.Tid
	unsafe          []proto.Tid
	peer            transport.Peer
	closeRetries    int

	CapLock        sync.Mutex
	capGen         uint64
	capTTL         time.Time
	caps           map[proto.Ino]*Cap

	releaseMu      sync.Mutex
	pending        []proto.CapReleaseRecord
	ready          [][]proto.CapReleaseRecord
	releaseBatch   int

	RenewLimiter *rate.Limiter
}

// New builds a Session in state New for the given rank. releaseBatchSize
// bounds how many records accumulate in one CAP_RELEASE message before it
// migrates from pending to ready (spec.md §4.2 cap release buffering).
func New(rank proto.Rank, releaseBatchSize int) *Session {
	if releaseBatchSize <= 0 {
		releaseBatchSize = 64
	}
	return &Session{
		MDSRank:      rank,
		state:        StateNew,
		caps:         make(map[proto.Ino]*Cap),
		releaseBatch: releaseBatchSize,
		RenewLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (s *Session) State() State {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.state
}

func (s *Session) SetPeer(p transport.Peer) {
	s.Mu.Lock()
	s.peer = p
	s.Mu.Unlock()
}

func (s *Session) Peer() transport.Peer {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.peer
}

// BeginOpen transitions new|closing -> opening and stamps renewRequested,
// per spec.md §4.2 open_session.
func (s *Session) BeginOpen(now time.Time) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.state = StateOpening
	s.renewRequested = now
}

// HandleOpenAck transitions opening -> open on an inbound SESSION_OPEN and
// returns the tids parked on s.waiting, which the caller (Coordinator) must
// re-enter into do_request.
func (s *Session) HandleOpenAck() []proto.Tid {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.state = StateOpen
	return s.drainWaitingLocked()
}

func (s *Session) drainWaitingLocked() []proto.Tid {
	if len(s.waiting) == 0 {
		return nil
	}
	w := s.waiting
	s.waiting = nil
	return w
}

// ParkWaiting adds tid to s.waiting. Caller must have already checked
// !s.state.Ready().
func (s *Session) ParkWaiting(tid proto.Tid) {
	s.Mu.Lock()
	s.waiting = append(s.waiting, tid)
	s.Mu.Unlock()
}

// TouchInbound implements the hung -> open transition on any inbound
// message (spec.md §4.2).
func (s *Session) TouchInbound() {
	s.Mu.Lock()
	if s.state == StateHung {
		s.state = StateOpen
	}
	s.Mu.Unlock()
}

// CheckHung transitions open -> hung if now is past ttl, returning true if
// it did. The periodic tick calls this (spec.md §4.5).
func (s *Session) CheckHung(now time.Time) bool {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.state == StateOpen && !s.ttl.IsZero() && now.After(s.ttl) {
		s.state = StateHung
		return true
	}
	return false
}

// SetTTL updates the absolute session deadline, typically from a
// SESSION_OPEN_ACK or SESSION_RENEWCAPS reply.
func (s *Session) SetTTL(ttl time.Time) {
	s.Mu.Lock()
	s.ttl = ttl
	s.Mu.Unlock()
}

func (s *Session) TTL() time.Time {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.ttl
}

func (s *Session) RenewRequested() time.Time {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.renewRequested
}

func (s *Session) SetRenewRequested(now time.Time) {
	s.Mu.Lock()
	s.renewRequested = now
	s.Mu.Unlock()
}

// EnterReconnecting transitions open -> reconnecting, resets seq to 0, and
// returns a snapshot of s.unsafe to replay (spec.md §4.2 reconnect step 1-2).
func (s *Session) EnterReconnecting() []proto.Tid {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.state = StateReconnecting
	s.seq = 0
	u := make([]proto.Tid, len(s.unsafe))
	copy(u, s.unsafe)
	return u
}

// ResetForAddrChange transitions the session back to new from any state,
// for use when its MDS's address changed: whatever connection it had (or
// was establishing) is no longer valid, and a fresh SESSION_OPEN handshake
// against the new address is required before anything else can be sent.
// Returns the tids parked on s.waiting so the caller can re-enter
// do_request against the new address.
func (s *Session) ResetForAddrChange() []proto.Tid {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.state = StateNew
	return s.drainWaitingLocked()
}

// CompleteReconnect transitions reconnecting -> open and drains waiting.
func (s *Session) CompleteReconnect() []proto.Tid {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.state = StateOpen
	return s.drainWaitingLocked()
}

// HandleStale bumps capGen and clears capTTL on SESSION_STALE (spec.md
// §4.2).
func (s *Session) HandleStale() {
	s.CapLock.Lock()
	s.capGen++
	s.capTTL = time.Time{}
	s.CapLock.Unlock()
}

// HandleRenewCaps computes the new capTTL from renewRequested and
// sessionTimeout, and reports whether the session was stale beforehand (so
// the caller wakes every cap-waiter on every inode of this session, per
// spec.md §4.2 and scenario S6).
func (s *Session) HandleRenewCaps(sessionTimeout time.Duration, now time.Time) (wasStale bool) {
	s.Mu.Lock()
	renewedAt := s.renewRequested
	s.Mu.Unlock()

	s.CapLock.Lock()
	defer s.CapLock.Unlock()
	wasStale = s.capTTL.IsZero() || now.After(s.capTTL)
	s.capTTL = renewedAt.Add(sessionTimeout)
	return wasStale
}

func (s *Session) CapGen() uint64 {
	s.CapLock.Lock()
	defer s.CapLock.Unlock()
	return s.capGen
}

func (s *Session) CapTTL() time.Time {
	s.CapLock.Lock()
	defer s.CapLock.Unlock()
	return s.capTTL
}

// BeginClosing transitions any state -> closing on a local __close_session.
func (s *Session) BeginClosing() {
	s.Mu.Lock()
	s.state = StateClosing
	s.Mu.Unlock()
}

// IncCloseRetry bumps and returns the close-retry counter, used by the
// bounded close_sessions retry loop (spec.md §4.5).
func (s *Session) IncCloseRetry() int {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.closeRetries++
	return s.closeRetries
}

// --- request wait/unsafe membership -----------------------------------

// LinkUnsafe appends tid to s.unsafe. A request is on s.waiting XOR
// s.unsafe, never both (spec.md invariants); callers are responsible for
// calling UnlinkWaiting first if needed.
func (s *Session) LinkUnsafe(tid proto.Tid) {
	s.Mu.Lock()
	s.unsafe = append(s.unsafe, tid)
	s.Mu.Unlock()
}

// UnlinkUnsafe removes tid from s.unsafe, reporting whether it was present.
func (s *Session) UnlinkUnsafe(tid proto.Tid) bool {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	for i, t := range s.unsafe {
		if t == tid {
			s.unsafe = append(s.unsafe[:i], s.unsafe[i+1:]...)
			return true
		}
	}
	return false
}

// UnsafeSnapshot returns a copy of the tids currently on s.unsafe, in send
// order.
func (s *Session) UnsafeSnapshot() []proto.Tid {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	out := make([]proto.Tid, len(s.unsafe))
	copy(out, s.unsafe)
	return out
}

// --- cap set, guarded by CapLock ---------------------------------------

// AddCap links c into s.caps.
func (s *Session) AddCap(c *Cap) {
	s.CapLock.Lock()
	s.caps[c.Ino] = c
	s.CapLock.Unlock()
}

// GetCap looks up the cap this session holds for ino, if any.
func (s *Session) GetCap(ino proto.Ino) (*Cap, bool) {
	s.CapLock.Lock()
	defer s.CapLock.Unlock()
	c, ok := s.caps[ino]
	return c, ok
}

// RemoveCap unlinks and returns the cap for ino, if present.
func (s *Session) RemoveCap(ino proto.Ino) (*Cap, bool) {
	s.CapLock.Lock()
	defer s.CapLock.Unlock()
	c, ok := s.caps[ino]
	if ok {
		delete(s.caps, ino)
	}
	return c, ok
}

// CapCount reports |s.caps| (spec.md invariant 2).
func (s *Session) CapCount() int {
	s.CapLock.Lock()
	defer s.CapLock.Unlock()
	return len(s.caps)
}

// CapsSnapshot returns a copy of every cap held by this session, for
// trimming (spec.md §4.2) and reconnect encoding (spec.md §4.2 step 3).
func (s *Session) CapsSnapshot() []*Cap {
	s.CapLock.Lock()
	defer s.CapLock.Unlock()
	out := make([]*Cap, 0, len(s.caps))
	for _, c := range s.caps {
		out = append(out, c)
	}
	return out
}

// ZeroSeqForReconnect zeroes Seq and IssueSeq on every held cap and bumps
// Gen to the session's current generation, per spec.md §4.2 reconnect
// step 3 ("Zero each cap's seq and issue_seq").
func (s *Session) ZeroSeqForReconnect() {
	s.CapLock.Lock()
	defer s.CapLock.Unlock()
	gen := s.capGen
	for _, c := range s.caps {
		c.Seq = 0
		c.IssueSeq = 0
		c.Gen = gen
	}
}

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

// Package request is the request pipeline of spec.md §4.4: a Request's
// lifecycle from creation through target selection, encoding, reply
// handling, forwarding, and rekick, plus the Registry (the Coordinator's
// tid-indexed request map).
package request

import (
	"sync"
	"time"

	"github.com/cubefs/mdsclient/proto"
	"github.com/cubefs/mdsclient/util"
)

// Request is one in-flight client operation. The exported fields are set
// before Submit and left unchanged afterwards, except Mode, which
// ShouldRetryStale switches to ModeAuth; everything else is guarded by mu.
type Request struct {
	Op        proto.OpCode
	Args      proto.RequestArgs
	CallerUID uint32
	CallerGID uint32
	Mode      proto.TargetMode
	Primary   proto.PathTarget
	Secondary *proto.PathTarget
	Timeout   time.Duration

	CapReleaseHints []proto.CapDropHint

	UnsafeDone util.Notify
	SafeDone   util.Notify

	mu             sync.Mutex
	tid            proto.Tid
	mds            proto.Rank
	resendMDS      proto.Rank
	fwdFromMDS     proto.Rank
	hasFwdFrom     bool
	numFwd         uint32
	fwdSeq         uint32
	numStale       int
	attempts       uint32
	startedAt      time.Time
	requestStarted bool
	gotUnsafe      bool
	gotSafe        bool
	reply          *proto.ReplyMsg
	err            error
}

// Create is spec.md §4.4's create(op, mode): alloc with resend_mds = -1 and
// one self-reference held by the caller (the returned pointer).
func Create(op proto.OpCode, mode proto.TargetMode) *Request {
	return &Request{
		Op:         op,
		Mode:       mode,
		mds:        -1,
		resendMDS:  -1,
		fwdFromMDS: -1,
		UnsafeDone: util.NewNotify(),
		SafeDone:   util.NewNotify(),
	}
}

// Tid reports the request's transaction id, or 0 before Submit assigns one.
func (r *Request) Tid() proto.Tid {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tid
}

// SetTid is called once, by Registry.Insert under the Coordinator mutex.
func (r *Request) SetTid(tid proto.Tid) {
	r.mu.Lock()
	r.tid = tid
	r.mu.Unlock()
}

func (r *Request) CurrentMDS() proto.Rank {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mds
}

func (r *Request) SetCurrentMDS(mds proto.Rank) {
	r.mu.Lock()
	r.mds = mds
	r.mu.Unlock()
}

func (r *Request) ResendMDS() proto.Rank {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resendMDS
}

// ClearResendMDS is spec.md §4.4 do_request's "Clear resend_mds" step,
// taken once a send actually proceeds to the chosen target.
func (r *Request) ClearResendMDS() {
	r.mu.Lock()
	r.resendMDS = -1
	r.mu.Unlock()
}

func (r *Request) SetResendMDS(mds proto.Rank) {
	r.mu.Lock()
	r.resendMDS = mds
	r.mu.Unlock()
}

// ForwardedFrom reports the MDS this request was forwarded from, for
// kick_requests(mds, all=true) (spec.md §4.4 Rekick).
func (r *Request) ForwardedFrom() (proto.Rank, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fwdFromMDS, r.hasFwdFrom
}

// StampStarted records request_started on the first send, per do_request's
// "If first send, stamp request_started."
func (r *Request) StampStarted(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.requestStarted {
		r.requestStarted = true
		r.startedAt = now
	}
}

// TimedOut reports whether now >= started + timeout, for do_request's
// deadline check. A zero Timeout never expires.
func (r *Request) TimedOut(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Timeout <= 0 || !r.requestStarted {
		return false
	}
	return !now.Before(r.startedAt.Add(r.Timeout))
}

// Attempts reports the send-attempt count; Encode derives the outgoing
// header's num_retry as attempts - 1.
func (r *Request) Attempts() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// BumpAttempt increments the attempt counter, called each time do_request
// actually sends (not merely parks).
func (r *Request) BumpAttempt() {
	r.mu.Lock()
	r.attempts++
	r.mu.Unlock()
}

func (r *Request) NumFwd() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.numFwd
}

// AcceptForward applies a FORWARD message, per spec.md §4.4 Forward
// handling. It reports false if fwd_seq is stale and must be ignored.
func (r *Request) AcceptForward(fwdSeq uint32, nextMDS proto.Rank, mustResend bool, hasSession bool) (accept bool, resend bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fwdSeq <= r.fwdSeq {
		return false, false
	}
	r.fwdSeq = fwdSeq
	r.numFwd++
	if !mustResend && hasSession {
		r.fwdFromMDS = r.mds
		r.hasFwdFrom = true
		r.mds = nextMDS
		return true, false
	}
	r.resendMDS = nextMDS
	r.mds = -1
	r.hasFwdFrom = false
	return true, true
}

// GotUnsafe/GotSafe/Reply/Err are read after the reply-handling mutations
// below; Finished reports whether a terminal reply or error has already
// been recorded (do_request's "If req.reply already set -> return").
func (r *Request) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reply != nil || r.err != nil
}

func (r *Request) GotUnsafe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gotUnsafe
}

func (r *Request) GotSafe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gotSafe
}

// IsDuplicate rejects a second unsafe or a second safe reply, per spec.md
// §4.4: "if (got_unsafe && !safe) || (got_safe && safe), drop."
func (r *Request) IsDuplicate(safe bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (r.gotUnsafe && !safe) || (r.gotSafe && safe)
}

// MarkUnsafe records an unsafe reply and wakes UnsafeDone.
func (r *Request) MarkUnsafe(reply *proto.ReplyMsg) {
	r.mu.Lock()
	r.gotUnsafe = true
	r.reply = reply
	r.mu.Unlock()
	r.UnsafeDone.Signal()
}

// MarkSafe records the safe reply and wakes SafeDone.
func (r *Request) MarkSafe() {
	r.mu.Lock()
	r.gotSafe = true
	r.mu.Unlock()
	r.SafeDone.Signal()
}

// FinishError records a terminal local error (timeout, encoding failure,
// resource exhaustion) and wakes both completion channels, since no
// further reply is expected.
func (r *Request) FinishError(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.UnsafeDone.Signal()
	r.SafeDone.Signal()
}

// Result returns the recorded reply and/or error, for the caller waiting
// on UnsafeDone.
func (r *Request) Result() (*proto.ReplyMsg, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reply, r.err
}

// NumStale reports the consecutive-ESTALE counter of spec.md §4.4's
// ESTALE tolerance ("if num_stale < 2 ...").
func (r *Request) NumStale() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.numStale
}

// BumpStale increments num_stale and returns the new value.
func (r *Request) BumpStale() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.numStale++
	return r.numStale
}

// ResetStale clears num_stale once a non-ESTALE result is observed.
func (r *Request) ResetStale() {
	r.mu.Lock()
	r.numStale = 0
	r.mu.Unlock()
}

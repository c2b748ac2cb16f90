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

package coordinator

import (
	"context"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	mdserrors "github.com/cubefs/mdsclient/errors"
	"github.com/cubefs/mdsclient/mdsmap"
	"github.com/cubefs/mdsclient/proto"
	"github.com/cubefs/mdsclient/request"
	"github.com/cubefs/mdsclient/session"
)

// Submit is spec.md §4.4's submit(req, dir): assign a tid, insert into the
// request registry, and enter do_request. dirUnsafeOps, if non-nil, is
// where this request's tid is linked (the directory's unsafe_dir_ops list
// -- callers track that list themselves; Submit only appends to it).
func (co *Coordinator) Submit(ctx context.Context, req *request.Request, dirUnsafeOps *[]proto.Tid) error {
	if co.Stopping() {
		return errShutdown
	}

	co.mu.Lock()
	tid := co.Requests.Insert(req)
	co.mu.Unlock()

	if dirUnsafeOps != nil {
		*dirUnsafeOps = append(*dirUnsafeOps, tid)
	}

	co.doRequest(ctx, req)
	return nil
}

// doRequest is spec.md §4.4's do_request(req), expected to run under the
// Coordinator mutex in the original; here the registry and session table
// already serialize the state it touches, so it is safe to call directly
// from Submit, HandleMap's replay, and Rekick.
func (co *Coordinator) doRequest(ctx context.Context, req *request.Request) {
	span := trace.SpanFromContextSafe(ctx)

	if req.Finished() {
		return
	}
	now := time.Now()
	if req.TimedOut(now) {
		req.FinishError(mdserrors.Timeout)
		co.Requests.Remove(req.Tid())
		return
	}

	m := co.CurrentMap()
	mds, err := request.ChooseMDS(req, m, co.Sessions, nil, nil)
	if err != nil || mds < 0 || !mdsmap.IsAtLeastActive(m.StateOf(mds)) {
		co.park(req)
		if co.cfg.Source != nil {
			epoch := proto.Epoch(0)
			if m != nil {
				epoch = m.Epoch() + 1
			}
			if serr := co.cfg.Source.RequestMap(ctx, epoch); serr != nil {
				span.Warnf("request map failed: %s", serr)
			}
		}
		return
	}

	sess := co.Sessions.GetOrCreate(mds)
	state := sess.State()
	if !state.Ready() {
		if state == session.StateNew || state == session.StateClosing {
			co.openSession(ctx, sess)
		}
		sess.ParkWaiting(req.Tid())
		return
	}

	req.ClearResendMDS()
	req.StampStarted(now)
	req.SetCurrentMDS(mds)
	req.BumpAttempt()

	sess.TopUp()
	releases := sess.DrainReady()
	var flatReleases []proto.CapReleaseRecord
	for _, batch := range releases {
		flatReleases = append(flatReleases, batch...)
	}

	msg := request.Encode(req, co.Requests.OldestTid(), m.Epoch(), flatReleases, false, 0)
	peer := sess.Peer()
	if peer == nil {
		span.Warnf("no peer for mds %d, parking tid %d", mds, req.Tid())
		sess.ParkWaiting(req.Tid())
		return
	}
	if err := peer.Send(ctx, msg); err != nil {
		req.FinishError(mdserrors.Wrap(mdserrors.KindProtocolError, "send failed", err))
		co.Requests.Remove(req.Tid())
	}
}

// Rekick is spec.md §4.4's kick_requests(mds, all): walk matching requests
// in ascending-tid batches and re-enter do_request for each, used on
// reconnect and on transitions to active.
func (co *Coordinator) Rekick(ctx context.Context, mds proto.Rank, all bool) {
	for _, batch := range co.Requests.KickCandidates(mds, all) {
		for _, r := range batch {
			co.doRequest(ctx, r)
		}
	}
}

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

	"github.com/cubefs/mdsclient/proto"
	"github.com/cubefs/mdsclient/session"
	"github.com/cubefs/mdsclient/util"
)

// maxCapFlushPerTick bounds how many sessions' ready release batches one
// tick drains, so a burst of buffered releases after a long stall cannot
// monopolize a single tick (supplements spec.md §4.5's tick description,
// which does not itself bound this).
const maxCapFlushPerTick = 64

// tickLoop is spec.md §4.5's periodic tick: every TickInterval (jittered),
// walk every session, check for hang, send renew/keepalive, and flush
// ready cap-release buffers.
func (co *Coordinator) tickLoop(ctx context.Context) {
	defer close(co.tickDone)

	for {
		d := util.Jitter(co.cfg.TickInterval, 0.1)
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		co.tick(ctx)
	}
}

func (co *Coordinator) tick(ctx context.Context) {
	span := trace.SpanFromContextSafe(ctx)
	now := time.Now()
	m := co.CurrentMap()

	flushed := 0
	co.Sessions.Range(func(sess *session.Session) {
		state := sess.State()
		switch {
		case state == session.StateClosing:
			co.resendClose(ctx, sess)
			return
		case !state.Ready():
			return
		}

		if sess.CheckHung(now) {
			span.Warnf("mds %d session hung, ttl passed", sess.MDSRank)
			if co.cfg.Source != nil && m != nil {
				if err := co.cfg.Source.RequestMap(ctx, m.Epoch()+1); err != nil {
					span.Warnf("request map after hang failed: %s", err)
				}
			}
		}

		peer := sess.Peer()
		if peer == nil {
			return
		}

		if m != nil && now.Sub(sess.RenewRequested()) >= m.SessionTimeout()/4 {
			if sess.RenewLimiter.Allow() {
				sess.SetRenewRequested(now)
				if err := peer.Send(ctx, proto.SessionMsg{Op: proto.SessionRenewCaps}); err != nil {
					span.Warnf("renew caps send to mds %d failed: %s", sess.MDSRank, err)
				}
			}
		} else {
			if err := peer.Keepalive(ctx); err != nil {
				span.Warnf("keepalive to mds %d failed: %s", sess.MDSRank, err)
			}
		}

		sess.TopUp()
		if flushed < maxCapFlushPerTick {
			if co.flushReleases(ctx, sess) {
				flushed++
			}
		}
	})
}

// flushReleases sends every ready CAP_RELEASE batch for sess, per spec.md
// §4.5's "flush ready release messages." Reports whether anything was sent.
func (co *Coordinator) flushReleases(ctx context.Context, sess *session.Session) bool {
	batches := sess.DrainReady()
	if len(batches) == 0 {
		return false
	}
	peer := sess.Peer()
	if peer == nil {
		return false
	}
	sent := false
	for _, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		if err := peer.Send(ctx, proto.CapReleaseMsg{Records: batch}); err != nil {
			trace.SpanFromContextSafe(ctx).Warnf(
				"cap release send to mds %d failed: %s", sess.MDSRank, err)
			continue
		}
		sent = true
	}
	return sent
}

func (co *Coordinator) resendClose(ctx context.Context, sess *session.Session) {
	peer := sess.Peer()
	if peer == nil {
		return
	}
	retries := sess.IncCloseRetry()
	if retries > maxCloseRetries {
		return
	}
	if err := peer.Send(ctx, proto.SessionMsg{Op: proto.SessionClose}); err != nil {
		trace.SpanFromContextSafe(ctx).Warnf("resend CLOSE to mds %d failed: %s", sess.MDSRank, err)
	}
}

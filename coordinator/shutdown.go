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
)

// maxCloseRetries bounds close_sessions' resend loop (spec.md §4.5:
// "bounded retry"); a session stuck past this count is force-dropped by
// CloseSessions rather than retried forever.
const maxCloseRetries = 5

// PreUmount is the first phase of spec.md §4.5's two-phase shutdown: stop
// accepting new submissions, drop every outstanding dentry lease, flush
// whatever cap releases are buffered, and wait (bounded by MountTimeout)
// for every outstanding request to reach its safe reply.
func (co *Coordinator) PreUmount(ctx context.Context) error {
	span := trace.SpanFromContextSafe(ctx)

	co.mu.Lock()
	co.stopping = true
	empty := co.Requests.Len() == 0
	co.mu.Unlock()

	co.Leases.DropAll()

	co.Sessions.Range(func(sess *session.Session) {
		co.flushReleases(ctx, sess)
	})

	if empty {
		return nil
	}

	timeout := co.cfg.MountTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case <-co.shutdownQuiescent:
		return nil
	case <-time.After(timeout):
		span.Warnf("pre_umount timed out with %d requests still outstanding", co.Requests.Len())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseSessions is the second phase: send CLOSE to every session, wait for
// CLOSE_ACK (observed as a transition to closing being cleared by
// HandleSession, i.e. the session leaving the table), and cancel the
// periodic tick once every session is gone or has exhausted its retries
// (spec.md §4.5).
func (co *Coordinator) CloseSessions(ctx context.Context) {
	span := trace.SpanFromContextSafe(ctx)

	co.Sessions.Range(func(sess *session.Session) {
		sess.BeginClosing()
		peer := sess.Peer()
		if peer == nil {
			return
		}
		if err := peer.Send(ctx, proto.SessionMsg{Op: proto.SessionClose}); err != nil {
			span.Warnf("send CLOSE to mds %d failed: %s", sess.MDSRank, err)
		}
	})

	deadline := time.Now().Add(time.Duration(maxCloseRetries) * co.cfg.TickInterval)
waitClosed:
	for time.Now().Before(deadline) {
		allClosed := true
		co.Sessions.Range(func(sess *session.Session) {
			if sess.State() == session.StateClosing {
				allClosed = false
			}
		})
		if allClosed {
			break
		}
		select {
		case <-ctx.Done():
			break waitClosed
		case <-time.After(100 * time.Millisecond):
		}
	}

	co.Sessions.Range(func(sess *session.Session) {
		if p := sess.Peer(); p != nil {
			_ = p.Close()
		}
		co.Sessions.Remove(sess.MDSRank)
	})

	if co.tickCancel != nil {
		co.tickCancel()
		<-co.tickDone
	}
	span.Infof("coordinator %s shut down", co.ClientID)
}

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
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/cubefs/mdsclient/proto"
)

// dentryKey identifies a lease-bearing dentry by (parent inode, name).
type dentryKey struct {
	parent proto.Ino
	name   string
}

// dentryLease is the per-dentry lease record of spec.md §4.5: "(session,
// gen, seq, renew_from, renew_after, expiry)".
type dentryLease struct {
	rank       proto.Rank
	gen        uint64
	seq        uint64
	renewFrom  time.Time
	renewAfter time.Time
	expiry     time.Time
	renewing   bool
}

// LeaseTable is the Coordinator's dentry-lease cache.
type LeaseTable struct {
	mu     sync.Mutex
	leases map[dentryKey]*dentryLease
}

func NewLeaseTable() *LeaseTable {
	return &LeaseTable{leases: make(map[dentryKey]*dentryLease)}
}

// Grant records a lease granted on (parent, name) by rank.
func (t *LeaseTable) Grant(parent proto.Ino, name string, rank proto.Rank, seq uint64, duration time.Duration, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leases[dentryKey{parent, name}] = &dentryLease{
		rank:   rank,
		seq:    seq,
		expiry: now.Add(duration),
	}
}

// HandleLease applies an inbound LEASE action, per spec.md §4.5 "Dentry
// leases": REVOKE clears the lease (caller must still send REVOKE_ACK);
// RENEW extends expiry if a renewal was in flight.
func (t *LeaseTable) HandleLease(parent proto.Ino, name string, msg proto.LeaseMsg, now time.Time) (ackRevoke bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := dentryKey{parent, name}

	switch msg.Action {
	case proto.LeaseRevoke:
		delete(t.leases, key)
		return true
	case proto.LeaseRenew:
		if l, ok := t.leases[key]; ok && l.renewing {
			l.expiry = l.expiry.Add(time.Duration(msg.DurationMs) * time.Millisecond)
			l.renewing = false
		}
		return false
	default:
		return false
	}
}

// DropAll discards every lease this client holds, per spec.md §4.5's
// shutdown phase 1 ("drop every outstanding dentry lease"). It does not
// notify the granting MDS; the lease simply expires there on its own.
func (t *LeaseTable) DropAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leases = make(map[dentryKey]*dentryLease)
}

// PreemptiveRelease sends a RELEASE with more_to_follow = true before a
// request that intends to invalidate (parent, name), so the MDS can batch
// it with the incoming request (spec.md §4.5).
func (co *Coordinator) PreemptiveRelease(ctx context.Context, rank proto.Rank, parent proto.Ino, name string) {
	sess := co.Sessions.Get(rank)
	if sess == nil {
		return
	}
	peer := sess.Peer()
	if peer == nil {
		return
	}
	msg := proto.LeaseMsg{
		Action:     proto.LeaseRelease,
		Ino:        parent,
		DentryName: name,
	}
	if err := peer.Send(ctx, msg); err != nil {
		trace.SpanFromContextSafe(ctx).Warnf("preemptive lease release to mds %d failed: %s", rank, err)
	}
}

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

// Package coordinator is the metadata client core's top-level assembler:
// the Coordinator of spec.md §4.5 owns the session table, the request
// registry, the cap cache, the current cluster map, and the periodic
// tick, and dispatches inbound messages to the right subsystem.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/cubefs/mdsclient/capcache"
	mdserrors "github.com/cubefs/mdsclient/errors"
	"github.com/cubefs/mdsclient/mapsource"
	"github.com/cubefs/mdsclient/mdsmap"
	"github.com/cubefs/mdsclient/proto"
	"github.com/cubefs/mdsclient/request"
	"github.com/cubefs/mdsclient/session"
	"github.com/cubefs/mdsclient/transport"
)

// Config wires the Coordinator's external collaborators, mirroring the
// teacher's master.Config composition of sub-configs passed to sub-factories.
type Config struct {
	// TickInterval is the periodic-tick base period (spec.md §4.5: "every
	// 5s, jittered"). Zero defaults to 5s.
	TickInterval time.Duration
	// MountTimeout bounds pre_umount's wait for outstanding requests.
	MountTimeout time.Duration
	// ReleaseBatchSize bounds a session's CAP_RELEASE batch size.
	ReleaseBatchSize int

	Source mapsource.Source
	Dialer transport.Dialer
}

// Coordinator is the client-side metadata core: one per mount.
type Coordinator struct {
	ClientID uuid.UUID

	cfg Config

	mu       sync.Mutex
	m        *mdsmap.Map
	stopping bool
	waiting  []*request.Request

	Sessions   *session.Table
	Requests   *request.Registry
	Caps       *capcache.Cache
	Leases     *LeaseTable
	SnapRealms *SnapRealmTable

	tickCancel context.CancelFunc
	tickDone   chan struct{}

	// shutdownQuiescent is signaled by HandleReply when, while stopping,
	// the request registry drains to zero; PreUmount waits on it.
	shutdownQuiescent chan struct{}
}

// New builds a Coordinator and starts its periodic tick, grounded on the
// teacher's master.NewMaster constructor-composition style (a Config
// holding sub-configs, sub-collaborators built and wired together, a
// trace span used for construction-time logging).
func New(cfg Config) *Coordinator {
	span, _ := trace.StartSpanFromContext(context.Background(), "")

	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.ReleaseBatchSize <= 0 {
		cfg.ReleaseBatchSize = 64
	}

	co := &Coordinator{
		ClientID:   uuid.New(),
		cfg:        cfg,
		Sessions:   session.NewTable(cfg.ReleaseBatchSize),
		Requests:   request.NewRegistry(),
		Caps:       capcache.New(),
		Leases:     NewLeaseTable(),
		SnapRealms: NewSnapRealmTable(),
		tickDone:   make(chan struct{}),
		shutdownQuiescent: make(chan struct{}, 1),
	}

	span.Infof("coordinator %s starting, tick=%s", co.ClientID, cfg.TickInterval)

	ctx, cancel := context.WithCancel(context.Background())
	co.tickCancel = cancel
	go co.tickLoop(ctx)

	return co
}

// CurrentMap returns the Coordinator's current cluster map view, or nil
// before the first MDS_MAP arrives.
func (co *Coordinator) CurrentMap() *mdsmap.Map {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.m
}

// HandleMap applies an inbound MDS_MAP payload, per spec.md §4.1's
// on_new_map: decode, diff against the prior map, and re-enter every
// request parked on waiting_for_map.
func (co *Coordinator) HandleMap(ctx context.Context, payload *proto.MDSMapPayload) error {
	span := trace.SpanFromContextSafe(ctx)

	next, err := mdsmap.Decode(payload)
	if err != nil {
		span.Errorf("decode mds map failed: %s", err)
		return err
	}

	co.mu.Lock()
	prev := co.m
	co.m = next
	waiting := co.waiting
	co.waiting = nil
	co.mu.Unlock()

	changes := mdsmap.Diff(prev, next)
	for _, ch := range changes {
		co.applyRankChange(ctx, ch)
	}

	for _, r := range waiting {
		co.doRequest(ctx, r)
	}
	return nil
}

// applyRankChange acts on one rank's transition between map epochs, per
// spec.md §4.1 on_new_map: a changed address kills the stale connection
// (and, mid-open, aborts the handshake so its waiters retry against the
// new address); a rank entering reconnect drives the reconnect protocol;
// a rank crossing into active releases anything parked on it and resends
// its buffered flushes.
func (co *Coordinator) applyRankChange(ctx context.Context, ch mdsmap.RankChange) {
	span := trace.SpanFromContextSafe(ctx)
	sess := co.Sessions.Get(ch.Rank)

	if ch.AddrChanged && sess != nil {
		span.Infof("mds %d address changed, closing stale connection", ch.Rank)
		if peer := sess.Peer(); peer != nil {
			_ = peer.Close()
			sess.SetPeer(nil)
		}
		// Whatever the old connection was doing (established or still
		// opening), it's against a dead address now; reset to new so
		// the next do_request redials SESSION_OPEN against the updated
		// one instead of parking behind a peer that will never answer.
		woken := sess.ResetForAddrChange()
		co.Rekick(ctx, ch.Rank, true)
		for _, tid := range woken {
			if r, ok := co.Requests.Lookup(tid); ok {
				co.doRequest(ctx, r)
			}
		}
	}

	if ch.EnteredReconnect && sess != nil {
		span.Infof("mds %d entered reconnect", ch.Rank)
		co.beginReconnect(ctx, ch.Rank)
	}

	if ch.CrossedActive {
		span.Infof("mds %d crossed into active", ch.Rank)
		co.Rekick(ctx, ch.Rank, true)
		if sess != nil {
			co.flushReleases(ctx, sess)
		}
	}
}

// park places req on waiting_for_map, per do_request's "park on
// waiting_for_map, ask the map source to subscribe to the next epoch."
func (co *Coordinator) park(req *request.Request) {
	co.mu.Lock()
	co.waiting = append(co.waiting, req)
	co.mu.Unlock()
}

// SetSource installs or replaces the map source after construction,
// needed because the common concrete Source (mapsource.GRPCSource) calls
// back into HandleMap and so cannot be built until the Coordinator it
// feeds already exists.
func (co *Coordinator) SetSource(src mapsource.Source) {
	co.mu.Lock()
	co.cfg.Source = src
	co.mu.Unlock()
}

// Stopping reports whether pre_umount has been called.
func (co *Coordinator) Stopping() bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.stopping
}

// errShutdown is returned by Submit once the Coordinator is stopping,
// per spec.md §7 ShutdownInProgress: "after stopping, new submissions
// are rejected."
var errShutdown = mdserrors.ShutdownInProgress

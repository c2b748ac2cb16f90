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

// Package capcache is the per-inode capability cache of spec.md §4.3: a
// map from Ino to the set of Caps granted by each MDS, with dirty-cap and
// flush-sequencing bookkeeping.
//
// Cap carries Ino/MDSRank rather than a pointer to its owning Session
// (package session) or Inode, per the id-based alternative spec.md's
// Design Notes §9 sanctions for breaking the session<->capcache<->request
// cyclic reference -- this keeps the import graph one-directional
// (request -> capcache -> session).
package capcache

import (
	"sync"
	"time"

	"github.com/cubefs/mdsclient/proto"
	"github.com/cubefs/mdsclient/session"
)

// Inode is the cap-cache side of one inode: the set of caps held on it (one
// per granting MDS), its authoritative cap, and dirty/flush state.
type Inode struct {
	Ino proto.Ino

	mu         sync.Mutex
	caps       map[proto.Rank]*session.Cap
	authRank   proto.Rank
	hasAuth    bool
	dirtyCaps  uint32
	flushSeq   uint64
	wanted     map[uint32]uint32 // open-mode -> wanted mask
	hasDirtyPages bool

	Size  uint64
	Mtime time.Time
	Atime time.Time
}

// NewInode constructs an empty cap set for ino.
func NewInode(ino proto.Ino) *Inode {
	return &Inode{
		Ino:    ino,
		caps:   make(map[proto.Rank]*session.Cap),
		wanted: make(map[uint32]uint32),
	}
}

// CapsIssued is the OR of every cap's Issued mask (spec.md §4.3
// caps_issued).
func (i *Inode) CapsIssued() uint32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	var issued uint32
	for _, c := range i.caps {
		issued |= c.Issued
	}
	return issued
}

// CapsWanted is the OR of per-open-mode wanted masks, with CapWriteBuffer
// dropped when the inode has no dirty pages (spec.md §4.3 caps_wanted:
// "modulated by whether the inode has dirty pages").
func (i *Inode) CapsWanted() uint32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	var wanted uint32
	for _, w := range i.wanted {
		wanted |= w
	}
	if !i.hasDirtyPages {
		wanted &^= proto.CapWriteBuffer
	}
	return wanted
}

// SetWanted records the wanted mask for one caller-visible open mode
// (e.g. an fd), replacing any prior mask for that mode.
func (i *Inode) SetWanted(mode uint32, wanted uint32) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if wanted == 0 {
		delete(i.wanted, mode)
		return
	}
	i.wanted[mode] = wanted
}

// SetDirtyPages marks whether the inode currently has buffered writes.
func (i *Inode) SetDirtyPages(dirty bool) {
	i.mu.Lock()
	i.hasDirtyPages = dirty
	i.mu.Unlock()
}

// Cap returns the cap held from rank, if any.
func (i *Inode) Cap(rank proto.Rank) (*session.Cap, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	c, ok := i.caps[rank]
	return c, ok
}

// AuthCap returns the current authoritative cap, if one is elected.
func (i *Inode) AuthCap() (*session.Cap, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.hasAuth {
		return nil, false
	}
	c, ok := i.caps[i.authRank]
	return c, ok
}

// AnyCapRank returns the rank of an arbitrary cap holder, used by target
// selection's AUTH-mode fallback when there is no elected auth_cap
// (spec.md §4.4: "if no auth_cap, use any cap's session").
func (i *Inode) AnyCapRank() (proto.Rank, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for rank := range i.caps {
		return rank, true
	}
	return 0, false
}

// CapCount reports how many MDS ranks currently hold a cap on this inode.
func (i *Inode) CapCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.caps)
}

// DirtyCaps is the bitmask of locally-modified-but-unflushed cap fields.
func (i *Inode) DirtyCaps() uint32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dirtyCaps
}

// MarkDirty ORs bits into dirtyCaps, e.g. on a local setattr.
func (i *Inode) MarkDirty(bits uint32) {
	i.mu.Lock()
	i.dirtyCaps |= bits
	i.mu.Unlock()
}

// BeginFlush stamps the inode with seq (the Coordinator's current
// cap_flush_seq) and clears dirtyCaps, returning the bits that were
// flushed. Caller links the inode onto the owning session's cap_flushing
// list (spec.md §4.3 "Flush sequencing").
func (i *Inode) BeginFlush(seq uint64) uint32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	bits := i.dirtyCaps
	i.dirtyCaps = 0
	i.flushSeq = seq
	return bits
}

// FlushSeq returns the flush_seq stamped by the most recent BeginFlush.
func (i *Inode) FlushSeq() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.flushSeq
}

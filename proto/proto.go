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

// Package proto holds the message field lists the metadata client core
// consumes and produces. Fields are named semantically, not laid out as
// bytes -- the wire encoding is the messenger's concern, out of scope here.
package proto

import "time"

const (
	// ReqIdKey is the trace-span field name carrying a request's tid.
	ReqIdKey = "tid"
)

type (
	// Rank identifies an MDS within a cluster map.
	Rank = int32
	// Tid is a per-Coordinator monotonically increasing transaction id.
	Tid = uint64
	// Epoch versions a cluster map; strictly increasing.
	Epoch = uint32
	// CapID identifies a Cap within its owning session.
	CapID = uint64
	// Ino is an inode number.
	Ino = uint64
)

// MDSState is the lifecycle state of one MDS rank as reported by the map.
type MDSState int32

const (
	MDSStateDown MDSState = iota
	MDSStateUpReplay
	MDSStateUpReconnect
	MDSStateUpRejoin
	MDSStateUpActive
	MDSStateStopping
	MDSStateFailed
)

func (s MDSState) String() string {
	switch s {
	case MDSStateDown:
		return "down"
	case MDSStateUpReplay:
		return "up:replay"
	case MDSStateUpReconnect:
		return "up:reconnect"
	case MDSStateUpRejoin:
		return "up:rejoin"
	case MDSStateUpActive:
		return "up:active"
	case MDSStateStopping:
		return "stopping"
	case MDSStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Cap bits. Independent bits; a cap's issued/implemented/wanted masks are
// ORs of these.
const (
	CapPin          = 1 << 0
	CapReadCache    = 1 << 1
	CapReadLazy     = 1 << 2
	CapWriteBuffer  = 1 << 3
	CapWriteExcl    = 1 << 4
	CapFileShared   = 1 << 5
	CapXAttrShared  = 1 << 6
	CapXAttrExcl    = 1 << 7
	CapDirWriteable = 1 << 8
)

// SessionOp enumerates the SESSION message's op field (spec.md §6).
type SessionOp int32

const (
	SessionOpen SessionOp = iota
	SessionOpenAck
	SessionRenewCaps
	SessionClose
	SessionCloseAck
	SessionStale
	SessionRecallState
)

// MapRequestMsg is the outbound ask of mapsource.Source.RequestMap,
// carried over the same opaque transport.Message contract as every other
// wire type (spec.md §6: "request_mdsmap(epoch_hint) is fire-and-forget").
type MapRequestMsg struct {
	EpochHint Epoch
}

// MDSMapPayload is the already-decoded field list of an MDS_MAP message.
type MDSMapPayload struct {
	Epoch             Epoch
	MaxMDS            int32
	Addr              map[Rank]string
	State             map[Rank]MDSState
	SessionTimeout    time.Duration
	SessionAutoclose  time.Duration
	MaxFileSize       uint64
	Root              Rank
}

// SessionMsg is the SESSION message, both directions.
type SessionMsg struct {
	Op      SessionOp
	Seq     uint64
	MaxCaps uint32 // only meaningful for SessionRecallState
}

// CapReleaseRecord is one entry of a batched CAP_RELEASE message.
type CapReleaseRecord struct {
	Ino        Ino
	CapID      CapID
	MigrateSeq uint64
	Seq        uint64
}

// CapReleaseMsg is the standalone CAP_RELEASE message the periodic tick
// flushes for a session's ready release batches, independent of any
// outgoing REQUEST (spec.md §8 "Release buffer sizing").
type CapReleaseMsg struct {
	Records []CapReleaseRecord
}

// CapOp distinguishes CapMsg's two shapes: a grant/revoke carrying the
// issued/wanted masks, or a flush-ack carrying only Ino/Seq.
type CapOp int32

const (
	CapOpGrant CapOp = iota
	CapOpFlushAck
)

// CapMsg carries a grant, revoke, or flush-ack from/ to an MDS.
type CapMsg struct {
	Op         CapOp
	Ino        Ino
	CapID      CapID
	Seq        uint64
	IssueSeq   uint64
	Mseq       uint64
	Issued     uint32
	Wanted     uint32
	Size       uint64
	Mtime      time.Time
	Atime      time.Time
	MigrateSeq uint64
}

// LeaseAction enumerates the LEASE message's action field.
type LeaseAction int32

const (
	LeaseRevoke LeaseAction = iota
	LeaseRenew
	LeaseRelease
	LeaseRevokeAck
)

// LeaseMsg is the LEASE message.
type LeaseMsg struct {
	Action     LeaseAction
	Mask       uint32
	Ino        Ino
	First      Ino
	Last       Ino
	DurationMs uint64
	Seq        uint64
	DentryName string
}

// PathTarget is the tagged union of ways a request may name its target:
// by inode handle, by dentry handle, or by (parent ino, path).
type PathKind int32

const (
	PathKindInode PathKind = iota
	PathKindDentry
	PathKindParentPath
)

type PathTarget struct {
	Kind       PathKind
	Ino        Ino
	DentryName string
	ParentIno  Ino
	Path       string
}

// RequestFlags are bits on the outbound REQUEST header.
type RequestFlags uint32

const (
	FlagReplay      RequestFlags = 1 << 0
	FlagWantDentry  RequestFlags = 1 << 1
)

// ReconnectCapRecord is one cap entry of a RECONNECT message.
type ReconnectCapRecord struct {
	Ino        Ino
	DentryPath string
	CapID      CapID
	Wanted     uint32
	Issued     uint32
	Size       uint64
	Mtime      time.Time
	Atime      time.Time
	SnapRealm  uint64
}

// ReconnectSnapRealmRecord is one snap-realm entry of a RECONNECT message.
type ReconnectSnapRealmRecord struct {
	Ino    uint64
	Seq    uint64
	Parent uint64
}

// ReconnectMsg is the RECONNECT message sent on session reconnect.
type ReconnectMsg struct {
	WasClosed  bool
	Caps       []ReconnectCapRecord
	SnapRealms []ReconnectSnapRealmRecord
}

// ForwardMsg is the REQUEST_FORWARD message.
type ForwardMsg struct {
	Tid        Tid
	NextMDS    Rank
	FwdSeq     uint32
	MustResend bool
}

// DentryTrace and InodeTrace are the parsed trace fields of a REPLY.
type InodeTrace struct {
	Ino   Ino
	Size  uint64
	Mtime time.Time
	Atime time.Time
}

type DentryTrace struct {
	ParentIno Ino
	Name      string
	TargetIno Ino
}

// ReaddirPage is the optional directory-listing page of a REPLY.
type ReaddirPage struct {
	Entries    []DentryTrace
	End        bool
	Frag       uint32
}

// ReplyMsg is the inbound REPLY message.
type ReplyMsg struct {
	Tid      Tid
	Op       OpCode
	Result   int32
	Safe     bool
	Dentry   *DentryTrace
	Inode    *InodeTrace
	Dir      *ReaddirPage
	SnapBlob []byte
}

// OpCode enumerates namespace operations.
type OpCode int32

const (
	OpLookup OpCode = iota
	OpGetattr
	OpOpen
	OpCreate
	OpMknod
	OpMkdir
	OpSymlink
	OpLink
	OpUnlink
	OpRmdir
	OpRename
	OpReaddir
	OpSetattr
	OpSetxattr
	OpRmxattr
	OpReadlink
)

func (o OpCode) String() string {
	names := [...]string{
		"lookup", "getattr", "open", "create", "mknod", "mkdir",
		"symlink", "link", "unlink", "rmdir", "rename", "readdir",
		"setattr", "setxattr", "rmxattr", "readlink",
	}
	if int(o) < 0 || int(o) >= len(names) {
		return "unknown"
	}
	return names[o]
}

// TargetMode selects how choose_mds picks an MDS for a request.
type TargetMode int32

const (
	ModeAny TargetMode = iota
	ModeAuth
	ModeRandom
)

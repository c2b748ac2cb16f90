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

package proto

// CapDropHint is a promise the client makes to drop a cap on success,
// vetoed if UnlessWanted bits are still wanted.
type CapDropHint struct {
	Mask          uint32
	UnlessWanted  uint32
}

// RequestArgs is the op-specific argument struct; left opaque (interface{})
// since its shape depends entirely on OpCode and is not part of this core's
// concern -- the core only needs to carry it to the wire.
type RequestArgs interface{}

// RequestMsg is the outbound REQUEST message header plus body.
type RequestMsg struct {
	Tid             Tid
	OldestClientTid Tid
	MDSMapEpoch     Epoch
	Op              OpCode
	CallerUID       uint32
	CallerGID       uint32
	Args            RequestArgs
	Primary         PathTarget
	Secondary       *PathTarget
	CapReleases     []CapReleaseRecord
	Flags           RequestFlags
	NumFwd          uint32
	NumRetry        uint32
	HintIno         Ino
}

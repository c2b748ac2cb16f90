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

package request

import "github.com/cubefs/mdsclient/proto"

// ESTALE is the MDS result code tolerated up to twice per spec.md §4.4's
// ESTALE tolerance and §9's recorded limitation (no migrate_seq
// consultation).
const ESTALE int32 = 116

// maxStaleRetries is spec.md §4.4/S3: "if num_stale < 2 ... otherwise
// reset num_stale and proceed" -- a third ESTALE surfaces to the caller.
const maxStaleRetries = 2

// ShouldRetryStale reports whether reply.Result == ESTALE and the request
// has not yet exhausted its retries, bumping num_stale and switching mode
// to AUTH as a side effect when it returns true. When it returns false
// after an ESTALE result, num_stale has been reset and the caller should
// treat the reply as terminal (surface to the application).
func (r *Request) ShouldRetryStale(result int32) bool {
	if result != ESTALE {
		r.ResetStale()
		return false
	}
	if r.NumStale() >= maxStaleRetries {
		r.ResetStale()
		return false
	}
	r.BumpStale()
	r.Mode = proto.ModeAuth
	r.SetCurrentMDS(-1)
	return true
}

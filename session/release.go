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

package session

import "github.com/cubefs/mdsclient/proto"

// BufferRelease appends rec to the partially-filled pending batch,
// migrating it to the ready queue once it reaches releaseBatch records
// (spec.md §4.2 "cap release buffering": two linked lists, pending and
// ready, plus a counter).
func (s *Session) BufferRelease(rec proto.CapReleaseRecord) {
	s.releaseMu.Lock()
	defer s.releaseMu.Unlock()

	s.pending = append(s.pending, rec)
	if len(s.pending) >= s.releaseBatch {
		s.ready = append(s.ready, s.pending)
		s.pending = nil
	}
}

// TopUp flushes the pending batch onto the ready queue regardless of
// fullness -- called from add_cap_releases(session, -1) in spec.md §4.4's
// reply handling, which tops up release buffers after every reply.
func (s *Session) TopUp() {
	s.releaseMu.Lock()
	defer s.releaseMu.Unlock()
	if len(s.pending) > 0 {
		s.ready = append(s.ready, s.pending)
		s.pending = nil
	}
}

// DrainReady pops every ready batch for sending, in FIFO order, as the
// periodic tick does (spec.md §4.5).
func (s *Session) DrainReady() [][]proto.CapReleaseRecord {
	s.releaseMu.Lock()
	defer s.releaseMu.Unlock()
	if len(s.ready) == 0 {
		return nil
	}
	out := s.ready
	s.ready = nil
	return out
}

// ReleaseCapacity reports the total number of records currently buffered
// (pending + all ready batches), the figure against which the "enough
// slots reserved" invariant of spec.md §8 (num_cap_releases >= nr_caps +
// safety) can be checked.
func (s *Session) ReleaseCapacity() int {
	s.releaseMu.Lock()
	defer s.releaseMu.Unlock()
	n := len(s.pending)
	for _, b := range s.ready {
		n += len(b)
	}
	return n
}

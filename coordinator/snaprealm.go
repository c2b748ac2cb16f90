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
	"sync"

	"github.com/cubefs/mdsclient/proto"
)

// SnapRealmTable is the Coordinator's snap-realm table of spec.md §4.5,
// guarded by its own rwlock so readers (most reply handling) don't
// contend with the rarer snap-trace writers.
type SnapRealmTable struct {
	mu     sync.RWMutex
	blobs  map[proto.Ino][]byte
}

func NewSnapRealmTable() *SnapRealmTable {
	return &SnapRealmTable{blobs: make(map[proto.Ino][]byte)}
}

// ApplyBlob stores the raw snap_blob carried on a REPLY or SNAP message
// for realm, acquiring the write lock -- spec.md §4.4: "acquire snap-realm
// write lock only if there is a snap blob."
func (t *SnapRealmTable) ApplyBlob(realm proto.Ino, blob []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]byte, len(blob))
	copy(cp, blob)
	t.blobs[realm] = cp
}

// Blob returns the last-applied snap blob for realm, under the read lock
// -- the path taken when a reply carries no snap_blob of its own.
func (t *SnapRealmTable) Blob(realm proto.Ino) ([]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.blobs[realm]
	return b, ok
}

// Records builds the RECONNECT message's snap-realm section (spec.md §4.2
// reconnect step 3). This table only retains the opaque blob last applied
// per realm, not its parsed seq/parent fields, so only Ino is populated;
// the MDS treats an unknown realm as needing its full trace resent anyway.
func (t *SnapRealmTable) Records() []proto.ReconnectSnapRealmRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]proto.ReconnectSnapRealmRecord, 0, len(t.blobs))
	for realm := range t.blobs {
		out = append(out, proto.ReconnectSnapRealmRecord{Ino: uint64(realm)})
	}
	return out
}

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

// Package mapsource specifies the monitor client as an opaque source of
// cluster maps (spec.md §6): request_mdsmap(epoch_hint) is fire-and-forget,
// and new maps arrive asynchronously through inbound MDS_MAP dispatch.
// Source covers the outbound ask; GRPCSource also receives the monitor's
// MDS_MAP pushes and hands them to its OnMap callback.
package mapsource

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/cubefs/mdsclient/proto"
)

// Source asks the monitor client to fetch a map at or beyond epochHint.
// Implementations must not block long; the real round trip completes
// asynchronously via inbound MDS_MAP dispatch.
type Source interface {
	RequestMap(ctx context.Context, epochHint proto.Epoch) error
}

// Dedup wraps a Source so concurrent callers asking for the same
// epochHint collapse into a single outbound RequestMap call, grounded on
// golang.org/x/sync/singleflight as used in the teacher's
// server/catalog/transport.go for concurrent transport lookups.
type Dedup struct {
	underlying Source
	group      singleflight.Group
}

func NewDedup(underlying Source) *Dedup {
	return &Dedup{underlying: underlying}
}

func (d *Dedup) RequestMap(ctx context.Context, epochHint proto.Epoch) error {
	key := epochKey(epochHint)
	_, err, _ := d.group.Do(key, func() (interface{}, error) {
		return nil, d.underlying.RequestMap(ctx, epochHint)
	})
	return err
}

func epochKey(e proto.Epoch) string {
	// A hand-rolled decimal key (no padding) avoids allocating via
	// fmt.Sprintf on a hot path.
	buf := make([]byte, 0, 10)
	if e == 0 {
		return "0"
	}
	for e > 0 {
		buf = append(buf, byte('0'+e%10))
		e /= 10
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

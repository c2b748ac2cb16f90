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

package mapsource

import (
	"context"
	"sync/atomic"

	"github.com/cubefs/mdsclient/proto"
)

// Static is a fixed-map Source fake for unit tests: it never delivers a
// new map, it just counts how many times RequestMap was called.
type Static struct {
	calls int64
}

func (s *Static) RequestMap(ctx context.Context, epochHint proto.Epoch) error {
	atomic.AddInt64(&s.calls, 1)
	return nil
}

func (s *Static) Calls() int64 {
	return atomic.LoadInt64(&s.calls)
}

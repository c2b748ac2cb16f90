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

package util

import "context"

// Notify is a single-shot, buffered-1 completion signal. Signal never
// blocks; a second Signal after the first is silently dropped. Wait is
// interruptible by ctx.
type Notify chan struct{}

func NewNotify() Notify {
	return make(Notify, 1)
}

func (n Notify) Signal() {
	select {
	case n <- struct{}{}:
	default:
	}
}

// Wait blocks until Signal is called or ctx is done; a timeout comes only
// from ctx's deadline.
func (n Notify) Wait(ctx context.Context) error {
	select {
	case <-n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

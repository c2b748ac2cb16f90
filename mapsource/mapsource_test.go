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
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDedupCollapsesConcurrentSameEpoch(t *testing.T) {
	underlying := &Static{}
	d := NewDedup(underlying)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, d.RequestMap(context.Background(), 5))
		}()
	}
	wg.Wait()

	require.Less(t, underlying.Calls(), int64(50))
	require.GreaterOrEqual(t, underlying.Calls(), int64(1))
}

func TestDedupDoesNotCollapseDifferentEpochs(t *testing.T) {
	underlying := &Static{}
	d := NewDedup(underlying)

	require.NoError(t, d.RequestMap(context.Background(), 1))
	require.NoError(t, d.RequestMap(context.Background(), 2))
	require.EqualValues(t, 2, underlying.Calls())
}

func TestEpochKeyMatchesDecimal(t *testing.T) {
	require.Equal(t, "0", epochKey(0))
	require.Equal(t, "42", epochKey(42))
	require.Equal(t, "4294967295", epochKey(4294967295))
}

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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableGetOnEmptyIsNil(t *testing.T) {
	tbl := NewTable(64)
	require.Nil(t, tbl.Get(3))
	require.Equal(t, 0, tbl.Len())
}

func TestTableGetOrCreateGrowsToPowerOfTwo(t *testing.T) {
	tbl := NewTable(64)

	s := tbl.GetOrCreate(0)
	require.NotNil(t, s)
	require.EqualValues(t, 0, s.MDSRank)
	require.Equal(t, 1, tbl.Len())

	// registering rank 5 must grow capacity to next power of two >= 6
	s5 := tbl.GetOrCreate(5)
	require.NotNil(t, s5)
	require.Equal(t, 8, tbl.Len())

	// the rank-0 session slot survives the grow
	require.Same(t, s, tbl.Get(0))
}

func TestTableGetOrCreateIsIdempotent(t *testing.T) {
	tbl := NewTable(64)
	a := tbl.GetOrCreate(2)
	b := tbl.GetOrCreate(2)
	require.Same(t, a, b)
}

func TestTableRemoveThenGetIsNil(t *testing.T) {
	tbl := NewTable(64)
	tbl.GetOrCreate(1)
	tbl.Remove(1)
	require.Nil(t, tbl.Get(1))
}

func TestTableRangeVisitsInRankOrder(t *testing.T) {
	tbl := NewTable(64)
	tbl.GetOrCreate(3)
	tbl.GetOrCreate(0)
	tbl.GetOrCreate(1)

	var seen []int32
	tbl.Range(func(s *Session) {
		seen = append(seen, int32(s.MDSRank))
	})
	require.Equal(t, []int32{0, 1, 3}, seen)
}

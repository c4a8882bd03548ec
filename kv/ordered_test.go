// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package kv_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/finalizestore/kv"
)

func TestOrderedMapPreservesInsertionOrder(t *testing.T) {
	m := kv.NewOrderedMap[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)
	require.Equal(t, []string{"a", "b", "c"}, m.Keys())
	require.Equal(t, []int{1, 2, 3}, m.Values())
}

func TestOrderedMapSetOverwritesInPlace(t *testing.T) {
	m := kv.NewOrderedMap[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("a", 99)
	require.Equal(t, []string{"a", "b"}, m.Keys())
	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, 99, v)
}

func TestOrderedMapRemoveShiftsPositions(t *testing.T) {
	m := kv.NewOrderedMap[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)
	require.True(t, m.Remove("b"))
	require.Equal(t, []string{"a", "c"}, m.Keys())
	idx, ok := m.IndexOf("c")
	require.True(t, ok)
	require.Equal(t, 1, idx)
}

func TestOrderedMapRemoveAbsentKey(t *testing.T) {
	m := kv.NewOrderedMap[string, int]()
	m.Set("a", 1)
	require.False(t, m.Remove("missing"))
}

func TestOrderedMapClone(t *testing.T) {
	m := kv.NewOrderedMap[string, int]()
	m.Set("a", 1)
	clone := m.Clone()
	clone.Set("b", 2)
	require.Equal(t, 1, m.Len())
	require.Equal(t, 2, clone.Len())
}

func TestOrderedSetInsertRemove(t *testing.T) {
	s := kv.NewOrderedSet[string]()
	s.Insert("a")
	s.Insert("b")
	s.Insert("a") // no-op
	require.Equal(t, []string{"a", "b"}, s.Items())
	require.True(t, s.Remove("a"))
	require.Equal(t, []string{"b"}, s.Items())
	require.False(t, s.Contains("a"))
}

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

func TestMemoryMapGetInsertRemove(t *testing.T) {
	m := kv.NewMemoryMap[string, int]()
	_, ok := m.Get("a")
	require.False(t, ok)

	m.Insert("a", 1)
	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.True(t, m.ContainsKey("a"))

	m.Remove("a")
	require.False(t, m.ContainsKey("a"))
}

func TestMemoryMapIterInsertionOrder(t *testing.T) {
	m := kv.NewMemoryMap[string, int]()
	m.Insert("c", 3)
	m.Insert("a", 1)
	m.Insert("b", 2)
	require.Equal(t, []string{"c", "a", "b"}, m.Keys())
	require.Equal(t, []int{3, 1, 2}, m.Values())
}

func TestMemoryMapAtomicCommit(t *testing.T) {
	m := kv.NewMemoryMap[string, int]()
	m.StartAtomic()
	require.True(t, m.IsAtomicInProgress())
	m.Insert("a", 1)
	_, ok := m.Get("a")
	require.False(t, ok, "committed view must not see a pending batch")
	v, ok := m.GetSpeculative("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
	m.FinishAtomic()
	require.False(t, m.IsAtomicInProgress())
	v, ok = m.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestMemoryMapAtomicAbort(t *testing.T) {
	m := kv.NewMemoryMap[string, int]()
	m.Insert("a", 1)
	m.StartAtomic()
	m.Insert("a", 2)
	m.Remove("a")
	m.Insert("b", 9)
	m.AbortAtomic()
	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
	_, ok = m.Get("b")
	require.False(t, ok)
}

func TestMemoryMapNestedAtomicAbsorbed(t *testing.T) {
	m := kv.NewMemoryMap[string, int]()
	m.StartAtomic()
	m.StartAtomic()
	m.Insert("a", 1)
	m.FinishAtomic()
	_, ok := m.Get("a")
	require.False(t, ok, "inner finish must not commit while outer batch is still open")
	m.FinishAtomic()
	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestMemoryMapRemoveWithinBatchHidesKey(t *testing.T) {
	m := kv.NewMemoryMap[string, int]()
	m.Insert("a", 1)
	m.StartAtomic()
	m.Remove("a")
	_, ok := m.GetSpeculative("a")
	require.False(t, ok)
	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
	m.FinishAtomic()
	_, ok = m.Get("a")
	require.False(t, ok)
}

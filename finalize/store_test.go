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

package finalize_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/finalizestore/finalize"
)

func newTestStore(t *testing.T) *finalize.Store[id, id, id, id] {
	t.Helper()
	st, err := finalize.Open[id, id, id, id]()
	require.NoError(t, err)
	return st
}

// scenario 1: init/insert/remove cycle.
func TestInitInsertRemoveCycle(t *testing.T) {
	st := newTestStore(t)

	_, err := st.InitializeMapping("hello.aleo", "account")
	require.NoError(t, err)

	_, _, err = st.InsertKeyValue("hello.aleo", "account", "123456789field", "987654321u128")
	require.NoError(t, err)
	require.True(t, st.ContainsKey("hello.aleo", "account", "123456789field"))
	v, ok := st.GetValue("hello.aleo", "account", "123456789field")
	require.True(t, ok)
	require.Equal(t, id("987654321u128"), v)
	require.NoError(t, st.CheckInvariants())

	_, err = st.RemoveKeyValue("hello.aleo", "account", "123456789field")
	require.NoError(t, err)
	require.False(t, st.ContainsKey("hello.aleo", "account", "123456789field"))
	_, ok = st.GetValue("hello.aleo", "account", "123456789field")
	require.False(t, ok)
	require.NoError(t, st.CheckInvariants())

	_, err = st.RemoveMapping("hello.aleo", "account")
	require.NoError(t, err)
	require.True(t, st.ContainsProgram("hello.aleo"))
	require.False(t, st.ContainsMapping("hello.aleo", "account"))

	require.NoError(t, st.RemoveProgram("hello.aleo"))
	require.False(t, st.ContainsProgram("hello.aleo"))
	require.NoError(t, st.CheckInvariants())
}

// scenario 2: update path.
func TestUpdatePath(t *testing.T) {
	st := newTestStore(t)
	_, err := st.InitializeMapping("hello.aleo", "account")
	require.NoError(t, err)

	_, _, err = st.UpdateKeyValue("hello.aleo", "account", "123456789field", "987654321u128")
	require.NoError(t, err)

	_, _, err = st.InsertKeyValue("hello.aleo", "account", "123456789field", "987654321u128")
	require.Error(t, err)

	rootBeforeUpdate := st.CurrentStorageRoot()
	_, _, err = st.UpdateKeyValue("hello.aleo", "account", "123456789field", "123456789u128")
	require.NoError(t, err)
	require.NotEqual(t, rootBeforeUpdate, st.CurrentStorageRoot())

	_, _, err = st.UpdateKeyValue("hello.aleo", "account", "123456789field", "987654321u128")
	require.NoError(t, err)
	require.Equal(t, rootBeforeUpdate, st.CurrentStorageRoot())
}

// scenario 3: bulk insert/delete.
func TestBulkInsertDelete(t *testing.T) {
	st := newTestStore(t)
	_, err := st.InitializeMapping("hello.aleo", "account")
	require.NoError(t, err)
	emptyRoot := st.CurrentStorageRoot()

	const n = 1000
	for i := 0; i < n; i++ {
		_, _, err := st.InsertKeyValue("hello.aleo", "account", id(fmt.Sprintf("%dfield", i)), id(fmt.Sprintf("%du64", i)))
		require.NoError(t, err)
	}
	for i := 0; i < n; i++ {
		require.True(t, st.ContainsKey("hello.aleo", "account", id(fmt.Sprintf("%dfield", i))))
		v, ok := st.GetValue("hello.aleo", "account", id(fmt.Sprintf("%dfield", i)))
		require.True(t, ok)
		require.Equal(t, id(fmt.Sprintf("%du64", i)), v)
	}
	require.NoError(t, st.CheckInvariants())

	for i := 0; i < n; i++ {
		_, err := st.RemoveKeyValue("hello.aleo", "account", id(fmt.Sprintf("%dfield", i)))
		require.NoError(t, err)
	}
	require.Equal(t, emptyRoot, st.CurrentStorageRoot())
	require.NoError(t, st.CheckInvariants())
}

// scenario 4: mapping removal propagates.
func TestMappingRemovalPropagates(t *testing.T) {
	st := newTestStore(t)
	_, err := st.InitializeMapping("hello.aleo", "account")
	require.NoError(t, err)

	const n = 1000
	for i := 0; i < n; i++ {
		_, _, err := st.InsertKeyValue("hello.aleo", "account", id(fmt.Sprintf("%dfield", i)), id(fmt.Sprintf("%du64", i)))
		require.NoError(t, err)
	}

	_, err = st.RemoveMapping("hello.aleo", "account")
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.False(t, st.ContainsKey("hello.aleo", "account", id(fmt.Sprintf("%dfield", i))))
	}
	require.True(t, st.ContainsProgram("hello.aleo"))
	require.NoError(t, st.CheckInvariants())
}

// scenario 5: program removal renumbers.
func TestProgramRemovalRenumbers(t *testing.T) {
	st := newTestStore(t)
	_, err := st.InitializeMapping("a.aleo", "m")
	require.NoError(t, err)
	_, err = st.InitializeMapping("b.aleo", "m")
	require.NoError(t, err)
	_, err = st.InitializeMapping("c.aleo", "m")
	require.NoError(t, err)

	require.NoError(t, st.RemoveProgram("b.aleo"))
	require.NoError(t, st.CheckInvariants())

	_, _, err = st.InsertKeyValue("c.aleo", "m", "k", "v")
	require.NoError(t, err)
	require.NoError(t, st.CheckInvariants())
}

// scenario 6: must-initialize-first.
func TestMustInitializeFirst(t *testing.T) {
	st := newTestStore(t)
	root := st.CurrentStorageRoot()

	_, _, err := st.InsertKeyValue("p.aleo", "m", "k", "v")
	require.Error(t, err)
	_, _, err = st.UpdateKeyValue("p.aleo", "m", "k", "v")
	require.Error(t, err)

	require.Equal(t, root, st.CurrentStorageRoot())
}

func TestSpeculativeEquivalence(t *testing.T) {
	direct := newTestStore(t)
	_, err := direct.InitializeMapping("p.aleo", "m")
	require.NoError(t, err)
	_, _, err = direct.InsertKeyValue("p.aleo", "m", "k1", "v1")
	require.NoError(t, err)
	_, _, err = direct.InsertKeyValue("p.aleo", "m", "k2", "v2")
	require.NoError(t, err)
	directRoot := direct.CurrentStorageRoot()

	speculative := newTestStore(t)
	speculative.SetSpeculative(true)
	_, err = speculative.InitializeMapping("p.aleo", "m")
	require.NoError(t, err)
	_, _, err = speculative.InsertKeyValue("p.aleo", "m", "k1", "v1")
	require.NoError(t, err)
	_, _, err = speculative.InsertKeyValue("p.aleo", "m", "k2", "v2")
	require.NoError(t, err)
	require.True(t, speculative.TreeMayBeStale())

	speculative.SetSpeculative(false)
	require.NoError(t, speculative.RebuildTree())
	require.False(t, speculative.TreeMayBeStale())
	require.Equal(t, directRoot, speculative.CurrentStorageRoot())
}

func TestAtomicBatchPassthrough(t *testing.T) {
	st := newTestStore(t)
	st.StartAtomic()
	require.True(t, st.IsAtomicInProgress())
	st.AbortAtomic()
	require.False(t, st.IsAtomicInProgress())
}

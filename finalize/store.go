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

package finalize

import (
	"sync/atomic"

	"go.uber.org/zap"

	async "github.com/anacrolix/sync"

	"github.com/erigontech/finalizestore/hashutil"
	"github.com/erigontech/finalizestore/merkle"
)

// Store is the public façade: storage plus a cached finalize tree kept
// behind a single-writer/many-readers lock, and a speculative-mode switch.
// is_speculate and the staleness flag are plain atomics -- a process-wide
// boolean needs no third-party replacement.
type Store[P, M, K, V hashutil.Encodable] struct {
	storage *Storage[P, M, K, V]

	treeMu async.RWMutex
	tree   *merkle.Tree

	speculate atomic.Bool
	stale     atomic.Bool

	dev    uint16
	hasDev bool
	log    *zap.Logger
}

// Open returns a fresh, empty Store.
func Open[P, M, K, V hashutil.Encodable](opts ...Option) (*Store[P, M, K, V], error) {
	o := applyOptions(opts)
	tree, err := merkle.NewTree(merkle.FinalizeTreeDepth, nil)
	if err != nil {
		return nil, wrapError(KindInconsistentState, "Open", err, "building empty finalize tree")
	}
	return &Store[P, M, K, V]{
		storage: NewStorage[P, M, K, V](o.log),
		tree:    tree,
		dev:     o.dev,
		hasDev:  o.hasDev,
		log:     o.log,
	}, nil
}

// Dev returns the opaque backend-instance tag, if one was supplied.
func (st *Store[P, M, K, V]) Dev() (uint16, bool) { return st.dev, st.hasDev }

// IsSpeculative reports whether speculative mode is on.
func (st *Store[P, M, K, V]) IsSpeculative() bool { return st.speculate.Load() }

// SetSpeculative toggles speculative mode. Callers must quiesce concurrent
// mutators before toggling; turning it on marks the cached tree stale,
// since every subsequent mutator will skip tree maintenance until the
// caller turns it back off and calls RebuildTree.
func (st *Store[P, M, K, V]) SetSpeculative(on bool) {
	wasOn := st.speculate.Swap(on)
	if on && !wasOn {
		st.stale.Store(true)
	}
}

// TreeMayBeStale reports whether the cached tree may not reflect committed
// content -- true whenever speculative mode is, or has been, on without a
// subsequent RebuildTree. Advisory only: CurrentStorageRoot does not
// refuse to serve a stale root, it is on the caller to check first.
func (st *Store[P, M, K, V]) TreeMayBeStale() bool { return st.stale.Load() }

// RebuildTree recomputes the finalize tree from scratch and installs it as
// the committed tree, clearing the staleness flag. Callers exit
// speculative mode by calling SetSpeculative(false) then RebuildTree.
func (st *Store[P, M, K, V]) RebuildTree() error {
	tree, err := st.storage.ToFinalizeTree()
	if err != nil {
		return wrapError(KindInconsistentState, "RebuildTree", err, "recomputing finalize tree")
	}
	st.treeMu.Lock()
	defer st.treeMu.Unlock()
	st.tree = tree
	st.stale.Store(false)
	return nil
}

// CurrentStorageRoot returns the root of the committed finalize tree.
func (st *Store[P, M, K, V]) CurrentStorageRoot() hashutil.Digest {
	st.treeMu.RLock()
	defer st.treeMu.RUnlock()
	return st.tree.Root()
}

// StartAtomic, IsAtomicInProgress, AbortAtomic, and FinishAtomic fan the
// batch frame out to the six storage maps.
func (st *Store[P, M, K, V]) StartAtomic()            { st.storage.StartAtomic() }
func (st *Store[P, M, K, V]) IsAtomicInProgress() bool { return st.storage.IsAtomicInProgress() }
func (st *Store[P, M, K, V]) AbortAtomic()            { st.storage.AbortAtomic() }
func (st *Store[P, M, K, V]) FinishAtomic()           { st.storage.FinishAtomic() }

// programIndex returns p's deployment index along with whether p already
// has a program entry.
func (st *Store[P, M, K, V]) programIndex(p P) (uint32, bool) {
	return st.storage.programIndexMap.GetSpeculative(p)
}

// logFieldsProgram tags a log entry with program_id and, if set, the
// store's dev tag.
func (st *Store[P, M, K, V]) logFieldsProgram(p P) []zap.Field {
	fields := []zap.Field{zap.String("program_id", hexDigits(p.Bits()))}
	if st.hasDev {
		fields = append(fields, zap.Uint16("dev", st.dev))
	}
	return fields
}

// logFields tags a log entry with program_id, mapping, and, if set, the
// store's dev tag.
func (st *Store[P, M, K, V]) logFields(p P, m M) []zap.Field {
	return append(st.logFieldsProgram(p), zap.String("mapping", hexDigits(m.Bits())))
}

// swapTreeFor computes the candidate program tree for p under the given
// hypothetical update, folds it into a candidate finalize tree (append if
// p is new, update-in-place otherwise), runs mutate, and -- only if mutate
// succeeds -- installs the candidate as the committed tree. Must be called
// with treeMu held for writing.
func (st *Store[P, M, K, V]) swapTreeFor(p P, update merkle.Update, mutate func() error) error {
	programExists := st.storage.ContainsProgram(p)
	var existingIndex uint32
	if programExists {
		existingIndex, _ = st.programIndex(p)
	}

	programTree, err := st.storage.ToProgramTree(p, []merkle.Update{update})
	if err != nil {
		return wrapError(KindInconsistentState, "swapTreeFor", err, "building candidate program tree")
	}
	root := programTree.Root()

	var candidate *merkle.Tree
	if programExists {
		candidate, err = st.tree.PrepareUpdate(int(existingIndex), root.Bits())
	} else {
		candidate, err = st.tree.PrepareAppend([][]byte{root.Bits()})
	}
	if err != nil {
		return wrapError(KindInconsistentState, "swapTreeFor", err, "building candidate finalize tree")
	}

	if err := mutate(); err != nil {
		return err
	}
	st.tree = candidate
	return nil
}

// InitializeMapping creates an empty mapping m for program p.
func (st *Store[P, M, K, V]) InitializeMapping(p P, m M) (hashutil.Digest, error) {
	if st.speculate.Load() {
		mid, err := st.storage.InitializeMapping(p, m)
		st.stale.Store(true)
		return mid, err
	}

	st.treeMu.Lock()
	defer st.treeMu.Unlock()

	st.log.Debug("initialize_mapping", st.logFields(p, m)...)

	mid := mappingID(p, m)
	update := merkle.NewInsertMapping(mid)
	var result hashutil.Digest
	err := st.swapTreeFor(p, update, func() error {
		got, err := st.storage.InitializeMapping(p, m)
		result = got
		return err
	})
	if err != nil {
		st.log.Warn("initialize_mapping aborted", append(st.logFields(p, m), zap.Error(err))...)
		return hashutil.Digest{}, err
	}
	return result, nil
}

// InsertKeyValue inserts a brand-new (k, v) entry into mapping (p, m).
func (st *Store[P, M, K, V]) InsertKeyValue(p P, m M, k K, v V) (hashutil.Digest, hashutil.Digest, error) {
	if st.speculate.Load() {
		kid, vid, err := st.storage.InsertKeyValue(p, m, k, v)
		st.stale.Store(true)
		return kid, vid, err
	}

	st.treeMu.Lock()
	defer st.treeMu.Unlock()

	st.log.Debug("insert_key_value", st.logFields(p, m)...)

	mid, ok := st.storage.GetMappingID(p, m)
	if !ok {
		return hashutil.Digest{}, hashutil.Digest{}, newError(KindMappingNotInitialized, "InsertKeyValue", "mapping not initialized")
	}
	kid := keyID(mid, k)
	vid := valueID(kid, v)
	update := merkle.NewInsertValue(mid, kid, vid)

	var gotKid, gotVid hashutil.Digest
	err := st.swapTreeFor(p, update, func() error {
		k2, v2, err := st.storage.InsertKeyValue(p, m, k, v)
		gotKid, gotVid = k2, v2
		return err
	})
	if err != nil {
		st.log.Warn("insert_key_value aborted", append(st.logFields(p, m), zap.Error(err))...)
		return hashutil.Digest{}, hashutil.Digest{}, err
	}
	return gotKid, gotVid, nil
}

// UpdateKeyValue overwrites the value for k in mapping (p, m), inserting if
// k is not yet present.
func (st *Store[P, M, K, V]) UpdateKeyValue(p P, m M, k K, v V) (hashutil.Digest, hashutil.Digest, error) {
	if st.speculate.Load() {
		kid, vid, err := st.storage.UpdateKeyValue(p, m, k, v)
		st.stale.Store(true)
		return kid, vid, err
	}

	st.treeMu.Lock()
	defer st.treeMu.Unlock()

	st.log.Debug("update_key_value", st.logFields(p, m)...)

	mid, ok := st.storage.GetMappingID(p, m)
	if !ok {
		kid, vid, err := st.storage.UpdateKeyValue(p, m, k, v)
		return kid, vid, err
	}
	kid := keyID(mid, k)
	vid := valueID(kid, v)

	var update merkle.Update
	if st.storage.keyMap.ContainsKey(kid) {
		kvMap, _ := st.storage.keyValueIDMap.GetSpeculative(mid)
		idx, found := kvMap.IndexOf(kid)
		if !found {
			return hashutil.Digest{}, hashutil.Digest{}, newError(KindInconsistentState, "UpdateKeyValue", "key present in KeyMap but absent from its mapping's entry list")
		}
		update = merkle.NewUpdateValue(mid, idx, kid, vid)
	} else {
		update = merkle.NewInsertValue(mid, kid, vid)
	}

	var gotKid, gotVid hashutil.Digest
	err := st.swapTreeFor(p, update, func() error {
		k2, v2, err := st.storage.UpdateKeyValue(p, m, k, v)
		gotKid, gotVid = k2, v2
		return err
	})
	if err != nil {
		st.log.Warn("update_key_value aborted", append(st.logFields(p, m), zap.Error(err))...)
		return hashutil.Digest{}, hashutil.Digest{}, err
	}
	return gotKid, gotVid, nil
}

// RemoveKeyValue removes k from mapping (p, m).
func (st *Store[P, M, K, V]) RemoveKeyValue(p P, m M, k K) (hashutil.Digest, error) {
	if st.speculate.Load() {
		kid, _, err := st.storage.RemoveKeyValue(p, m, k)
		st.stale.Store(true)
		return kid, err
	}

	st.treeMu.Lock()
	defer st.treeMu.Unlock()

	st.log.Debug("remove_key_value", st.logFields(p, m)...)

	mid, ok := st.storage.GetMappingID(p, m)
	if !ok {
		kid, _, err := st.storage.RemoveKeyValue(p, m, k)
		return kid, err
	}
	kid := keyID(mid, k)
	kvMap, _ := st.storage.keyValueIDMap.GetSpeculative(mid)
	idx, found := kvMap.IndexOf(kid)
	if !found {
		_, _, err := st.storage.RemoveKeyValue(p, m, k)
		return hashutil.Digest{}, err
	}
	update := merkle.NewRemoveValue(mid, idx)

	var gotKid hashutil.Digest
	err := st.swapTreeFor(p, update, func() error {
		k2, _, err := st.storage.RemoveKeyValue(p, m, k)
		gotKid = k2
		return err
	})
	if err != nil {
		st.log.Warn("remove_key_value aborted", append(st.logFields(p, m), zap.Error(err))...)
		return hashutil.Digest{}, err
	}
	return gotKid, nil
}

// RemoveMapping removes mapping m from program p and every entry within it.
func (st *Store[P, M, K, V]) RemoveMapping(p P, m M) (hashutil.Digest, error) {
	if st.speculate.Load() {
		mid, err := st.storage.RemoveMapping(p, m)
		st.stale.Store(true)
		return mid, err
	}

	st.treeMu.Lock()
	defer st.treeMu.Unlock()

	st.log.Debug("remove_mapping", st.logFields(p, m)...)

	mid, ok := st.storage.GetMappingID(p, m)
	if !ok {
		return st.storage.RemoveMapping(p, m)
	}
	update := merkle.NewRemoveMapping(mid)

	var gotMid hashutil.Digest
	err := st.swapTreeFor(p, update, func() error {
		id, err := st.storage.RemoveMapping(p, m)
		gotMid = id
		return err
	})
	if err != nil {
		st.log.Warn("remove_mapping aborted", append(st.logFields(p, m), zap.Error(err))...)
		return hashutil.Digest{}, err
	}
	return gotMid, nil
}

// RemoveProgram removes program p and renumbers surviving indices. Unlike
// every other mutator, it rebuilds the finalize tree from scratch after
// the storage mutation rather than computing a targeted candidate, because
// index compaction can move more than one leaf.
func (st *Store[P, M, K, V]) RemoveProgram(p P) error {
	if st.speculate.Load() {
		err := st.storage.RemoveProgram(p)
		st.stale.Store(true)
		return err
	}

	st.treeMu.Lock()
	defer st.treeMu.Unlock()

	st.log.Debug("remove_program", st.logFieldsProgram(p)...)

	if err := st.storage.RemoveProgram(p); err != nil {
		st.log.Warn("remove_program aborted", append(st.logFieldsProgram(p), zap.Error(err))...)
		return err
	}
	tree, err := st.storage.ToFinalizeTree()
	if err != nil {
		st.log.Warn("remove_program aborted", append(st.logFieldsProgram(p), zap.Error(err))...)
		return wrapError(KindInconsistentState, "RemoveProgram", err, "rebuilding finalize tree")
	}
	st.tree = tree
	return nil
}

// Query passthroughs -- all use the speculative view, so that a mutator's
// own in-progress batch is visible to it.

func (st *Store[P, M, K, V]) ContainsProgram(p P) bool { return st.storage.ContainsProgram(p) }
func (st *Store[P, M, K, V]) ContainsMapping(p P, m M) bool {
	return st.storage.ContainsMapping(p, m)
}
func (st *Store[P, M, K, V]) ContainsKey(p P, m M, k K) bool {
	return st.storage.ContainsKey(p, m, k)
}
func (st *Store[P, M, K, V]) GetMappingNames(p P) ([]M, bool) { return st.storage.GetMappingNames(p) }
func (st *Store[P, M, K, V]) GetMappingID(p P, m M) (hashutil.Digest, bool) {
	return st.storage.GetMappingID(p, m)
}
func (st *Store[P, M, K, V]) GetKeyID(p P, m M, k K) (hashutil.Digest, bool) {
	return st.storage.GetKeyID(p, m, k)
}
func (st *Store[P, M, K, V]) GetKey(keyID hashutil.Digest) (K, bool) { return st.storage.GetKey(keyID) }
func (st *Store[P, M, K, V]) GetValue(p P, m M, k K) (V, bool)       { return st.storage.GetValue(p, m, k) }
func (st *Store[P, M, K, V]) GetValueFromKeyID(keyID hashutil.Digest) (V, bool) {
	return st.storage.GetValueFromKeyID(keyID)
}
func (st *Store[P, M, K, V]) GetChecksum() hashutil.Digest { return st.storage.GetChecksum() }

// CheckInvariants verifies I1-I6 against committed storage state and I7
// against the cached tree.
func (st *Store[P, M, K, V]) CheckInvariants() error {
	if err := st.storage.CheckInvariants(); err != nil {
		return err
	}
	fresh, err := st.storage.ToFinalizeTree()
	if err != nil {
		return err
	}
	if fresh.Root() != st.CurrentStorageRoot() {
		return newError(KindInconsistentState, "CheckInvariants", "I7: cached root diverges from recomputed root")
	}
	return nil
}

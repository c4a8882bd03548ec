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

// Package finalize implements the transactional, Merkle-authenticated
// key-value store that holds the mutable state of a set of deployed
// programs: the raw six-map data layer (this file), the Merkle tree
// builders (merkle_builder.go), and the public façade (store.go).
package finalize

import (
	"github.com/RoaringBitmap/roaring/v2"
	"go.uber.org/zap"

	"github.com/erigontech/finalizestore/hashutil"
	"github.com/erigontech/finalizestore/internal/intmath"
	"github.com/erigontech/finalizestore/kv"
)

// Storage is the raw six-map data layer. P, M, K, V are the opaque,
// equality-comparable, canonically-bit-encodable domains for ProgramID,
// MappingName, Key, and Value respectively.
type Storage[P, M, K, V hashutil.Encodable] struct {
	programIDMap    *kv.MemoryMap[P, *kv.OrderedSet[M]]
	programIndexMap *kv.MemoryMap[P, uint32]
	mappingIDMap    *kv.MemoryMap[ProgramMapping[P, M], hashutil.Digest]
	keyValueIDMap   *kv.MemoryMap[hashutil.Digest, *kv.OrderedMap[hashutil.Digest, hashutil.Digest]]
	keyMap          *kv.MemoryMap[hashutil.Digest, K]
	valueMap        *kv.MemoryMap[hashutil.Digest, V]

	// liveIndices mirrors ProgramIndexMap.values as a bitmap, letting
	// nextProgramIndex find the current maximum index without scanning the
	// full value set. CheckInvariants does not read it; it rebuilds its own
	// bitmap from the committed indices.
	liveIndices *roaring.Bitmap

	log *zap.Logger
}

// NewStorage returns an empty Storage. A nil logger is treated as a no-op
// logger.
func NewStorage[P, M, K, V hashutil.Encodable](log *zap.Logger) *Storage[P, M, K, V] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Storage[P, M, K, V]{
		programIDMap:    kv.NewMemoryMap[P, *kv.OrderedSet[M]](),
		programIndexMap: kv.NewMemoryMap[P, uint32](),
		mappingIDMap:    kv.NewMemoryMap[ProgramMapping[P, M], hashutil.Digest](),
		keyValueIDMap:   kv.NewMemoryMap[hashutil.Digest, *kv.OrderedMap[hashutil.Digest, hashutil.Digest]](),
		keyMap:          kv.NewMemoryMap[hashutil.Digest, K](),
		valueMap:        kv.NewMemoryMap[hashutil.Digest, V](),
		liveIndices:     roaring.New(),
		log:             log,
	}
}

// tableField tags a log entry with the backend tables an operation touched,
// by their Table name rather than the MemoryMap's Go type.
func tableField(tables ...kv.Table) zap.Field {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = string(t)
	}
	return zap.Strings("tables", names)
}

func (s *Storage[P, M, K, V]) startAtomic() {
	s.programIDMap.StartAtomic()
	s.programIndexMap.StartAtomic()
	s.mappingIDMap.StartAtomic()
	s.keyValueIDMap.StartAtomic()
	s.keyMap.StartAtomic()
	s.valueMap.StartAtomic()
}

func (s *Storage[P, M, K, V]) finishAtomic() {
	s.programIDMap.FinishAtomic()
	s.programIndexMap.FinishAtomic()
	s.mappingIDMap.FinishAtomic()
	s.keyValueIDMap.FinishAtomic()
	s.keyMap.FinishAtomic()
	s.valueMap.FinishAtomic()
}

func (s *Storage[P, M, K, V]) abortAtomic() {
	s.programIDMap.AbortAtomic()
	s.programIndexMap.AbortAtomic()
	s.mappingIDMap.AbortAtomic()
	s.keyValueIDMap.AbortAtomic()
	s.keyMap.AbortAtomic()
	s.valueMap.AbortAtomic()
}

// StartAtomic opens a batch on all six maps. Nested calls are absorbed by
// each map's own batch-depth counter.
func (s *Storage[P, M, K, V]) StartAtomic() { s.startAtomic() }

// IsAtomicInProgress reports whether a batch is open.
func (s *Storage[P, M, K, V]) IsAtomicInProgress() bool {
	return s.programIDMap.IsAtomicInProgress()
}

// AbortAtomic discards every map's pending batch.
func (s *Storage[P, M, K, V]) AbortAtomic() { s.abortAtomic() }

// FinishAtomic commits every map's pending batch.
func (s *Storage[P, M, K, V]) FinishAtomic() { s.finishAtomic() }

// InitializeMapping creates an empty mapping m for program p.
func (s *Storage[P, M, K, V]) InitializeMapping(p P, m M) (hashutil.Digest, error) {
	const op = "InitializeMapping"
	pm := ProgramMapping[P, M]{Program: p, Mapping: m}
	if s.mappingIDMap.ContainsKey(pm) {
		return hashutil.Digest{}, newError(KindMappingAlreadyExists, op, "mapping already initialized")
	}
	mid := mappingID(p, m)
	if _, ok := s.keyValueIDMap.Get(mid); ok {
		return hashutil.Digest{}, newError(KindMappingAlreadyExists, op, "mapping id already present")
	}

	s.startAtomic()
	names, existed := s.programIDMap.Get(p)
	if !existed {
		names = kv.NewOrderedSet[M]()
	} else {
		names = names.Clone()
	}
	names.Insert(m)
	s.programIDMap.Insert(p, names)

	if !existed {
		idx := s.nextProgramIndex()
		s.programIndexMap.Insert(p, idx)
		s.liveIndices.Add(idx)
	}

	s.mappingIDMap.Insert(pm, mid)
	s.keyValueIDMap.Insert(mid, kv.NewOrderedMap[hashutil.Digest, hashutil.Digest]())
	s.finishAtomic()

	s.log.Debug("initialized mapping", zap.Stringer("mapping_id", digestStringer{mid}), tableField(kv.ProgramIDMap, kv.ProgramIndexMap, kv.MappingIDMap, kv.KeyValueIDMap))
	return mid, nil
}

func (s *Storage[P, M, K, V]) nextProgramIndex() uint32 {
	if s.liveIndices.IsEmpty() {
		return 0
	}
	next, overflowed := intmath.SafeAdd(uint64(s.liveIndices.Maximum()), 1)
	if overflowed || next > uint64(^uint32(0)) {
		panic("intmath: program index space exhausted")
	}
	return uint32(next)
}

// InsertKeyValue inserts a brand-new (k, v) entry into mapping (p, m).
func (s *Storage[P, M, K, V]) InsertKeyValue(p P, m M, k K, v V) (hashutil.Digest, hashutil.Digest, error) {
	const op = "InsertKeyValue"
	mid, kvMap, err := s.mustMappingEntries(op, p, m)
	if err != nil {
		return hashutil.Digest{}, hashutil.Digest{}, err
	}
	kid := keyID(mid, k)
	if s.keyMap.ContainsKey(kid) || kvMap.ContainsKey(kid) {
		return hashutil.Digest{}, hashutil.Digest{}, newError(KindKeyAlreadyExists, op, "key already present in mapping")
	}
	vid := valueID(kid, v)

	s.startAtomic()
	kvMap = kvMap.Clone()
	kvMap.Set(kid, vid)
	s.keyValueIDMap.Insert(mid, kvMap)
	s.keyMap.Insert(kid, k)
	s.valueMap.Insert(kid, v)
	s.finishAtomic()

	s.log.Debug("inserted key value", zap.Stringer("mapping_id", digestStringer{mid}), zap.Stringer("key_id", digestStringer{kid}), tableField(kv.KeyValueIDMap, kv.KeyMap, kv.ValueMap))
	return kid, vid, nil
}

// UpdateKeyValue overwrites the value for k in mapping (p, m), or behaves
// like InsertKeyValue if k is not yet present.
//
// The key-already-exists check below only fires when the key is NOT yet in
// KeyMap -- the branch appears unreachable and its error message inverted.
// Preserved as-is rather than silently corrected.
func (s *Storage[P, M, K, V]) UpdateKeyValue(p P, m M, k K, v V) (hashutil.Digest, hashutil.Digest, error) {
	const op = "UpdateKeyValue"
	mid, kvMap, err := s.mustMappingEntries(op, p, m)
	if err != nil {
		return hashutil.Digest{}, hashutil.Digest{}, err
	}
	kid := keyID(mid, k)

	if !s.keyMap.ContainsKey(kid) {
		if kvMap.ContainsKey(kid) {
			return hashutil.Digest{}, hashutil.Digest{}, newError(KindKeyAlreadyExists, op, "key already present in mapping")
		}
		return s.InsertKeyValue(p, m, k, v)
	}

	vid := valueID(kid, v)
	s.startAtomic()
	kvMap = kvMap.Clone()
	kvMap.Set(kid, vid)
	s.keyValueIDMap.Insert(mid, kvMap)
	s.valueMap.Insert(kid, v)
	s.finishAtomic()

	s.log.Debug("updated key value", zap.Stringer("mapping_id", digestStringer{mid}), zap.Stringer("key_id", digestStringer{kid}), tableField(kv.KeyValueIDMap, kv.ValueMap))
	return kid, vid, nil
}

// RemoveKeyValue removes k from mapping (p, m).
func (s *Storage[P, M, K, V]) RemoveKeyValue(p P, m M, k K) (hashutil.Digest, int, error) {
	const op = "RemoveKeyValue"
	mid, kvMap, err := s.mustMappingEntries(op, p, m)
	if err != nil {
		return hashutil.Digest{}, 0, err
	}
	kid := keyID(mid, k)
	index, ok := kvMap.IndexOf(kid)
	if !ok {
		return hashutil.Digest{}, 0, newError(KindKeyNotFound, op, "key not found in mapping")
	}

	s.startAtomic()
	kvMap = kvMap.Clone()
	kvMap.Remove(kid)
	s.keyValueIDMap.Insert(mid, kvMap)
	s.keyMap.Remove(kid)
	s.valueMap.Remove(kid)
	s.finishAtomic()

	s.log.Debug("removed key value", zap.Stringer("mapping_id", digestStringer{mid}), zap.Stringer("key_id", digestStringer{kid}), tableField(kv.KeyValueIDMap, kv.KeyMap, kv.ValueMap))
	return kid, index, nil
}

// RemoveMapping removes mapping m from program p and every entry within it.
func (s *Storage[P, M, K, V]) RemoveMapping(p P, m M) (hashutil.Digest, error) {
	const op = "RemoveMapping"
	mid, kvMap, err := s.mustMappingEntries(op, p, m)
	if err != nil {
		return hashutil.Digest{}, err
	}

	s.startAtomic()
	names, _ := s.programIDMap.Get(p)
	names = names.Clone()
	names.Remove(m)
	s.programIDMap.Insert(p, names)

	pm := ProgramMapping[P, M]{Program: p, Mapping: m}
	s.mappingIDMap.Remove(pm)
	s.keyValueIDMap.Remove(mid)
	for _, kid := range kvMap.Keys() {
		s.keyMap.Remove(kid)
		s.valueMap.Remove(kid)
	}
	s.finishAtomic()

	s.log.Debug("removed mapping", zap.Stringer("mapping_id", digestStringer{mid}), tableField(kv.ProgramIDMap, kv.MappingIDMap, kv.KeyValueIDMap, kv.KeyMap, kv.ValueMap))
	return mid, nil
}

// RemoveProgram removes program p, every one of its mappings, and then
// compacts ProgramIndexMap so the surviving indices stay dense.
func (s *Storage[P, M, K, V]) RemoveProgram(p P) error {
	const op = "RemoveProgram"
	names, ok := s.programIDMap.Get(p)
	if !ok {
		return newError(KindProgramNotFound, op, "program not found")
	}
	removedIndex, ok := s.programIndexMap.Get(p)
	if !ok {
		return newError(KindInconsistentState, op, "program missing from index map")
	}

	s.startAtomic()
	for _, m := range names.Items() {
		if _, err := s.RemoveMapping(p, m); err != nil {
			s.abortAtomic()
			s.log.Warn("remove program aborted", zap.Error(err), tableField(kv.ProgramIDMap, kv.MappingIDMap, kv.KeyValueIDMap, kv.KeyMap, kv.ValueMap))
			return wrapError(KindInconsistentState, op, err, "removing mapping %v", m)
		}
	}

	s.programIDMap.Remove(p)
	s.programIndexMap.Remove(p)
	s.liveIndices.Remove(removedIndex)
	for _, other := range s.programIndexMap.Keys() {
		idx, _ := s.programIndexMap.Get(other)
		if idx > removedIndex {
			s.liveIndices.Remove(idx)
			s.liveIndices.Add(idx - 1)
			s.programIndexMap.Insert(other, idx-1)
		}
	}
	s.finishAtomic()

	s.log.Debug("removed program", zap.Uint32("removed_index", removedIndex), tableField(kv.ProgramIDMap, kv.ProgramIndexMap))
	return nil
}

func (s *Storage[P, M, K, V]) mustMappingEntries(op string, p P, m M) (hashutil.Digest, *kv.OrderedMap[hashutil.Digest, hashutil.Digest], error) {
	pm := ProgramMapping[P, M]{Program: p, Mapping: m}
	mid, ok := s.mappingIDMap.GetSpeculative(pm)
	if !ok {
		return hashutil.Digest{}, nil, newError(KindMappingNotInitialized, op, "mapping not initialized")
	}
	kvMap, ok := s.keyValueIDMap.GetSpeculative(mid)
	if !ok {
		return hashutil.Digest{}, nil, newError(KindInconsistentState, op, "mapping id missing its entry list")
	}
	return mid, kvMap, nil
}

// ContainsProgram reports whether p has a program entry.
func (s *Storage[P, M, K, V]) ContainsProgram(p P) bool {
	_, ok := s.programIDMap.GetSpeculative(p)
	return ok
}

// ContainsMapping reports whether mapping (p, m) is initialized.
func (s *Storage[P, M, K, V]) ContainsMapping(p P, m M) bool {
	_, ok := s.mappingIDMap.GetSpeculative(ProgramMapping[P, M]{Program: p, Mapping: m})
	return ok
}

// ContainsKey reports whether k exists in mapping (p, m).
func (s *Storage[P, M, K, V]) ContainsKey(p P, m M, k K) bool {
	mid, ok := s.mappingIDMap.GetSpeculative(ProgramMapping[P, M]{Program: p, Mapping: m})
	if !ok {
		return false
	}
	kvMap, ok := s.keyValueIDMap.GetSpeculative(mid)
	if !ok {
		return false
	}
	return kvMap.ContainsKey(keyID(mid, k))
}

// GetMappingNames returns p's mapping names in insertion order.
func (s *Storage[P, M, K, V]) GetMappingNames(p P) ([]M, bool) {
	names, ok := s.programIDMap.GetSpeculative(p)
	if !ok {
		return nil, false
	}
	return names.Items(), true
}

// GetMappingID returns the mapping_id for (p, m).
func (s *Storage[P, M, K, V]) GetMappingID(p P, m M) (hashutil.Digest, bool) {
	return s.mappingIDMap.GetSpeculative(ProgramMapping[P, M]{Program: p, Mapping: m})
}

// GetKeyID returns the key_id for k within mapping (p, m).
func (s *Storage[P, M, K, V]) GetKeyID(p P, m M, k K) (hashutil.Digest, bool) {
	mid, ok := s.mappingIDMap.GetSpeculative(ProgramMapping[P, M]{Program: p, Mapping: m})
	if !ok {
		return hashutil.Digest{}, false
	}
	return keyID(mid, k), true
}

// GetKey recovers the original key for key_id.
func (s *Storage[P, M, K, V]) GetKey(keyID hashutil.Digest) (K, bool) {
	return s.keyMap.GetSpeculative(keyID)
}

// GetValue returns the current value for k within mapping (p, m).
//
// The original implementation has a second-chance branch here that
// recomputes mapping_id/key_id from (p, m, k) when the primary lookup
// fails, duplicating the primary path; it's flagged TODO upstream rather
// than resolved. Treated as dead weight: the primary path below is
// canonical, and no second attempt is made.
func (s *Storage[P, M, K, V]) GetValue(p P, m M, k K) (V, bool) {
	mid, ok := s.mappingIDMap.GetSpeculative(ProgramMapping[P, M]{Program: p, Mapping: m})
	if !ok {
		var zero V
		return zero, false
	}
	kid := keyID(mid, k)
	return s.valueMap.GetSpeculative(kid)
}

// GetValueFromKeyID returns the current value addressed directly by
// key_id, bypassing mapping lookup.
func (s *Storage[P, M, K, V]) GetValueFromKeyID(keyID hashutil.Digest) (V, bool) {
	return s.valueMap.GetSpeculative(keyID)
}

// GetChecksum computes a cheap linear digest over KeyValueIDMap's
// iteration order, independent of the Merkle tree.
func (s *Storage[P, M, K, V]) GetChecksum() hashutil.Digest {
	var mids []hashutil.Digest
	for _, pair := range s.keyValueIDMap.Iter() {
		mid := pair.Key
		valueIDs := pair.Value.Values()
		bits := make([][]byte, 0, len(valueIDs))
		for _, vid := range valueIDs {
			bits = append(bits, vid.Bits())
		}
		cMid := hashutil.H(mid.Bits(), hashutil.Concat(bits...))
		mids = append(mids, cMid)
	}
	bits := make([][]byte, 0, len(mids))
	for _, c := range mids {
		bits = append(bits, c.Bits())
	}
	return hashutil.H(hashutil.Concat(bits...))
}

// CheckInvariants verifies I1-I6 against the current committed state. It's
// a debug/test helper, not part of the mutator hot path.
func (s *Storage[P, M, K, V]) CheckInvariants() error {
	programIDs := s.programIDMap.Keys()
	indexIDs := s.programIndexMap.Keys()
	if len(programIDs) != len(indexIDs) {
		return newError(KindInconsistentState, "CheckInvariants", "I1: ProgramIDMap/ProgramIndexMap size mismatch")
	}
	seen := roaring.New()
	for _, p := range programIDs {
		idx, ok := s.programIndexMap.Get(p)
		if !ok {
			return newError(KindInconsistentState, "CheckInvariants", "I1: program missing index entry")
		}
		seen.Add(idx)
	}
	if seen.GetCardinality() != uint64(len(programIDs)) {
		return newError(KindInconsistentState, "CheckInvariants", "I2: duplicate program indices")
	}
	if !seen.IsEmpty() && (seen.Minimum() != 0 || seen.Maximum() != uint32(seen.GetCardinality()-1)) {
		return newError(KindInconsistentState, "CheckInvariants", "I2: indices not dense 0..N-1")
	}

	mappings, entries := 0, 0
	for _, p := range programIDs {
		names, _ := s.programIDMap.Get(p)
		for _, m := range names.Items() {
			mappings++
			pm := ProgramMapping[P, M]{Program: p, Mapping: m}
			mid, ok := s.mappingIDMap.Get(pm)
			if !ok || mid != mappingID(p, m) {
				return newError(KindInconsistentState, "CheckInvariants", "I3: mapping id mismatch")
			}
			kvMap, ok := s.keyValueIDMap.Get(mid)
			if !ok {
				return newError(KindInconsistentState, "CheckInvariants", "I4: mapping id missing entry list")
			}
			for _, kid := range kvMap.Keys() {
				entries++
				vid, _ := kvMap.Get(kid)
				k, ok := s.keyMap.Get(kid)
				if !ok {
					return newError(KindInconsistentState, "CheckInvariants", "I5: key_id missing from KeyMap")
				}
				v, ok := s.valueMap.Get(kid)
				if !ok {
					return newError(KindInconsistentState, "CheckInvariants", "I5: key_id missing from ValueMap")
				}
				if vid != valueID(kid, v) || kid != keyID(mid, k) {
					return newError(KindInconsistentState, "CheckInvariants", "I6: derivation mismatch")
				}
			}
		}
	}
	if len(s.mappingIDMap.Keys()) != mappings || len(s.keyValueIDMap.Keys()) != mappings {
		return newError(KindInconsistentState, "CheckInvariants", "I4: MappingIDMap/KeyValueIDMap hold entries for no mapping name")
	}
	if len(s.keyMap.Keys()) != entries || len(s.valueMap.Keys()) != entries {
		return newError(KindInconsistentState, "CheckInvariants", "I5: KeyMap/ValueMap hold key_ids outside every mapping")
	}
	return nil
}

type digestStringer struct{ d hashutil.Digest }

func (s digestStringer) String() string { return hexDigits(s.d[:]) }

func hexDigits(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}

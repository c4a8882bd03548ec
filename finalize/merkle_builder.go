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
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/erigontech/finalizestore/hashutil"
	"github.com/erigontech/finalizestore/merkle"
)

// ToMappingTree builds the mapping tree for mid from its KeyValueIDMap entry
// list (the pending-batch view if a batch is open, else the committed one),
// as if updates were additionally applied.
// Mirrors the original's to_mapping_tree, minus the `// TODO: Parallelize`
// left on its per-mapping construction loop: here every mapping tree in a
// ToProgramTree call is built concurrently via errgroup instead.
func (s *Storage[P, M, K, V]) ToMappingTree(mid hashutil.Digest, updates []merkle.Update) (*merkle.Tree, error) {
	kvMap, ok := s.keyValueIDMap.GetSpeculative(mid)
	if !ok {
		kvMap = nil
	}
	var valueIDs []hashutil.Digest
	if kvMap != nil {
		valueIDs = kvMap.Values()
	}

	for _, u := range updates {
		if u.MappingID != mid {
			continue
		}
		switch u.Kind {
		case merkle.InsertValue:
			valueIDs = append(valueIDs, u.ValueID)
		case merkle.UpdateValue:
			if u.Index < 0 || u.Index >= len(valueIDs) {
				return nil, newError(KindInconsistentState, "ToMappingTree", "update index %d out of range", u.Index)
			}
			valueIDs[u.Index] = u.ValueID
		case merkle.RemoveValue:
			if u.Index < 0 || u.Index >= len(valueIDs) {
				return nil, newError(KindInconsistentState, "ToMappingTree", "remove index %d out of range", u.Index)
			}
			valueIDs = append(valueIDs[:u.Index], valueIDs[u.Index+1:]...)
		}
	}

	leaves := make([][]byte, len(valueIDs))
	for i, vid := range valueIDs {
		leaves[i] = vid.Bits()
	}
	return merkle.NewTree(merkle.MappingTreeDepth, leaves)
}

// ToProgramTree builds the program tree for p from its mapping set, as if
// updates were additionally applied, building each affected mapping tree
// concurrently.
func (s *Storage[P, M, K, V]) ToProgramTree(p P, updates []merkle.Update) (*merkle.Tree, error) {
	names, ok := s.programIDMap.GetSpeculative(p)
	var mappingNames []M
	if ok {
		mappingNames = names.Items()
	}

	type mappingKey struct {
		name M
		mid  hashutil.Digest
	}
	mids := make([]mappingKey, 0, len(mappingNames))
	for _, m := range mappingNames {
		mid, ok := s.mappingIDMap.GetSpeculative(ProgramMapping[P, M]{Program: p, Mapping: m})
		if !ok {
			return nil, newError(KindInconsistentState, "ToProgramTree", "mapping name missing its id")
		}
		mids = append(mids, mappingKey{name: m, mid: mid})
	}
	for _, u := range updates {
		if u.Kind == merkle.InsertMapping {
			mids = append(mids, mappingKey{mid: u.MappingID})
		}
	}
	if len(mids) > 0 {
		removed := make(map[hashutil.Digest]bool)
		for _, u := range updates {
			if u.Kind == merkle.RemoveMapping {
				removed[u.MappingID] = true
			}
		}
		if len(removed) > 0 {
			filtered := mids[:0]
			for _, mk := range mids {
				if !removed[mk.mid] {
					filtered = append(filtered, mk)
				}
			}
			mids = filtered
		}
	}

	roots := make([]hashutil.Digest, len(mids))
	g, _ := errgroup.WithContext(context.Background())
	for i, mk := range mids {
		i, mk := i, mk
		g.Go(func() error {
			tree, err := s.ToMappingTree(mk.mid, updates)
			if err != nil {
				return err
			}
			roots[i] = tree.Root()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	leaves := make([][]byte, len(roots))
	for i, r := range roots {
		leaves[i] = r.Bits()
	}
	return merkle.NewTree(merkle.ProgramTreeDepth, leaves)
}

// ToFinalizeTree rebuilds the finalize tree from scratch: every program's
// current program tree root, placed at its ProgramIndexMap position. Used
// to verify I7 and after RemoveProgram's index renumbering.
func (s *Storage[P, M, K, V]) ToFinalizeTree() (*merkle.Tree, error) {
	programIDs := s.programIDMap.Keys()
	type indexedProgram struct {
		p     P
		index uint32
	}
	indexed := make([]indexedProgram, 0, len(programIDs))
	for _, p := range programIDs {
		idx, ok := s.programIndexMap.GetSpeculative(p)
		if !ok {
			return nil, newError(KindInconsistentState, "ToFinalizeTree", "program missing its index")
		}
		indexed = append(indexed, indexedProgram{p: p, index: idx})
	}
	sort.Slice(indexed, func(i, j int) bool { return indexed[i].index < indexed[j].index })

	roots := make([]hashutil.Digest, len(indexed))
	g, _ := errgroup.WithContext(context.Background())
	for i, ip := range indexed {
		i, ip := i, ip
		g.Go(func() error {
			tree, err := s.ToProgramTree(ip.p, nil)
			if err != nil {
				return err
			}
			roots[i] = tree.Root()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	leaves := make([][]byte, len(roots))
	for i, r := range roots {
		leaves[i] = r.Bits()
	}
	return merkle.NewTree(merkle.FinalizeTreeDepth, leaves)
}

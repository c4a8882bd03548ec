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

// Package merkle implements the three fixed-depth Merkle trees the finalize
// store authenticates its contents with: the mapping tree, the program tree,
// and the finalize tree. Tree.PrepareUpdate/PrepareAppend are pure -- they
// return a new Tree rather than mutating the receiver -- so a caller can
// compute a candidate root without holding any lock on the committed tree.
package merkle

import (
	"fmt"
	"sync"

	"github.com/erigontech/finalizestore/hashutil"
	"github.com/erigontech/finalizestore/internal/intmath"
)

// Depths of the three tree kinds, as fixed by the spec.
const (
	MappingTreeDepth  = 32
	ProgramTreeDepth  = 5
	FinalizeTreeDepth = 32
)

// emptyHashesByDepth[d][l] is the hash of an empty subtree of height l for a
// tree of depth d. Memoized per depth the first time it's needed, under
// emptyHashesMu since trees are built from concurrent goroutines.
var (
	emptyHashesMu      sync.Mutex
	emptyHashesByDepth = map[int][]hashutil.Digest{}
)

func emptyHashes(depth int) []hashutil.Digest {
	emptyHashesMu.Lock()
	defer emptyHashesMu.Unlock()
	if cached, ok := emptyHashesByDepth[depth]; ok {
		return cached
	}
	out := make([]hashutil.Digest, depth+1)
	out[0] = hashutil.HashLeaf(nil)
	for l := 1; l <= depth; l++ {
		out[l] = hashutil.HashNode(out[l-1], out[l-1])
	}
	emptyHashesByDepth[depth] = out
	return out
}

// Tree is a fixed-depth, append-friendly Merkle tree over leaf preimages.
// It never materializes more than its real leaf count: levels beyond the
// real leaves are represented by the precomputed empty-subtree hash for that
// height.
type Tree struct {
	depth  int
	levels [][]hashutil.Digest // levels[0] = leaf hashes; levels[i] = parents of levels[i-1]
	empty  []hashutil.Digest
}

// NewTree builds a fresh tree of the given depth from leaf preimages, in
// order. The leaf count must not exceed 2^depth.
func NewTree(depth int, leaves [][]byte) (*Tree, error) {
	hashed := make([]hashutil.Digest, len(leaves))
	for i, l := range leaves {
		hashed[i] = hashutil.HashLeaf(l)
	}
	return newTreeFromLeafHashes(depth, hashed)
}

func newTreeFromLeafHashes(depth int, leaves []hashutil.Digest) (*Tree, error) {
	empty := emptyHashes(depth)
	if len(leaves) > 1<<uint(depth) {
		return nil, fmt.Errorf("merkle: %d leaves exceeds capacity 2^%d", len(leaves), depth)
	}
	t := &Tree{depth: depth, empty: empty}
	t.levels = buildLevels(leaves, empty)
	return t, nil
}

// buildLevels computes levels[0]=leaves and each subsequent level by pairing
// consecutive nodes, padding an odd trailing node with the empty hash for
// that height.
func buildLevels(leaves []hashutil.Digest, empty []hashutil.Digest) [][]hashutil.Digest {
	levels := [][]hashutil.Digest{leaves}
	cur := leaves
	height := 0
	for len(cur) > 1 {
		next := make([]hashutil.Digest, intmath.CeilDiv(len(cur), 2))
		for i := range next {
			left := cur[2*i]
			var right hashutil.Digest
			if 2*i+1 < len(cur) {
				right = cur[2*i+1]
			} else {
				right = empty[height]
			}
			next[i] = hashutil.HashNode(left, right)
		}
		levels = append(levels, next)
		cur = next
		height++
	}
	return levels
}

// Root returns the tree's root, combining the real subtree (if any) with the
// empty-subtree hash for every remaining height up to depth.
func (t *Tree) Root() hashutil.Digest {
	top := t.empty[0]
	height := 0
	if n := len(t.levels[0]); n > 0 {
		top = t.levels[len(t.levels)-1][0]
		height = len(t.levels) - 1
	}
	root := top
	for l := height; l < t.depth; l++ {
		root = hashutil.HashNode(root, t.empty[l])
	}
	return root
}

// Len returns the real leaf count.
func (t *Tree) Len() int {
	return len(t.levels[0])
}

// PrepareUpdate returns a new tree with the leaf at index replaced, without
// mutating the receiver. Only the O(depth) path from the leaf to the top of
// the real subtree is recomputed.
func (t *Tree) PrepareUpdate(index int, newLeaf []byte) (*Tree, error) {
	n := len(t.levels[0])
	if index < 0 || index >= n {
		return nil, fmt.Errorf("merkle: index %d out of range [0, %d)", index, n)
	}
	newLevels := make([][]hashutil.Digest, len(t.levels))
	copy(newLevels, t.levels)

	idx := index
	cur := hashutil.HashLeaf(newLeaf)
	for level := 0; level < len(t.levels); level++ {
		lvl := append([]hashutil.Digest(nil), newLevels[level]...)
		lvl[idx] = cur
		newLevels[level] = lvl
		if level == len(t.levels)-1 {
			break
		}
		var sibling hashutil.Digest
		siblingIdx := idx ^ 1
		if siblingIdx < len(lvl) {
			sibling = lvl[siblingIdx]
		} else {
			sibling = t.empty[level]
		}
		if idx%2 == 0 {
			cur = hashutil.HashNode(cur, sibling)
		} else {
			cur = hashutil.HashNode(sibling, cur)
		}
		idx /= 2
	}
	return &Tree{depth: t.depth, levels: newLevels, empty: t.empty}, nil
}

// PrepareAppend returns a new tree with newLeaves appended after the
// existing ones, without mutating the receiver.
func (t *Tree) PrepareAppend(newLeaves [][]byte) (*Tree, error) {
	if len(newLeaves) == 0 {
		return t, nil
	}
	total := len(t.levels[0]) + len(newLeaves)
	if total > 1<<uint(t.depth) {
		return nil, fmt.Errorf("merkle: append would exceed capacity 2^%d", t.depth)
	}
	leaves := make([]hashutil.Digest, 0, total)
	leaves = append(leaves, t.levels[0]...)
	for _, l := range newLeaves {
		leaves = append(leaves, hashutil.HashLeaf(l))
	}
	return newTreeFromLeafHashes(t.depth, leaves)
}

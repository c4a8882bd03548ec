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

// Package hashutil supplies the collision-resistant hash H and the canonical
// bit-encoding contract used to derive mapping/key/value IDs and Merkle
// leaves. The hash itself is an external collaborator: callers only rely on
// its domain separation, not its internals.
package hashutil

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Size is the length in bytes of a Digest.
const Size = 32

// Digest is the output of H, used for every derived identifier.
type Digest [Size]byte

// Bits returns the canonical little-endian bit encoding of the digest, so a
// Digest can itself be hashed as an operand (e.g. mapping_id ‖ H(Key)).
func (d Digest) Bits() []byte {
	return d[:]
}

// Encodable is satisfied by any opaque, equality-comparable identifier or
// payload that exposes a canonical little-endian bit encoding: ProgramID,
// MappingName, Key, and Value all implement it.
type Encodable interface {
	comparable
	Bits() []byte
}

var (
	domainH    = []byte{0x00}
	domainLeaf = []byte{0x01}
	domainNode = []byte{0x02}
)

// H is the collision-resistant hash over bit strings. It consumes its
// arguments in order, each preceded by its length, so H("foo", "bar") and
// H("foob", "ar") differ. It is domain-separated from the tree-internal
// HashLeaf/HashNode so that a value can never be mistaken for a tree node.
func H(parts ...[]byte) Digest {
	return sum(domainH, parts...)
}

// HashLeaf hashes a single Merkle leaf preimage.
func HashLeaf(leaf []byte) Digest {
	return sum(domainLeaf, leaf)
}

// HashNode hashes two sibling nodes into their parent.
func HashNode(left, right Digest) Digest {
	return sum(domainNode, left[:], right[:])
}

func sum(domain []byte, parts ...[]byte) Digest {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors for an oversized key, and we never pass one.
		panic(err)
	}
	h.Write(domain)
	var lenBuf [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p)))
		h.Write(lenBuf[:])
		h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Concat little-endian concatenates a sequence of canonical bit encodings,
// matching the spec's `bits(a ‖ b)` contract.
func Concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

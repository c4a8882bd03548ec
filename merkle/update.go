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

package merkle

import "github.com/erigontech/finalizestore/hashutil"

// UpdateKind tags the flat, non-hierarchical update alphabet a program tree
// can be rebuilt "as if" applied.
type UpdateKind int

const (
	InsertValue UpdateKind = iota
	UpdateValue
	RemoveValue
	InsertMapping
	RemoveMapping
)

// Update is one entry of the differential update alphabet consumed when
// building a program tree speculatively: "as if this op had already been
// applied to storage". It is a flat tagged union, not a type hierarchy.
type Update struct {
	Kind      UpdateKind
	MappingID hashutil.Digest
	Index     int // leaf position, for UpdateValue/RemoveValue
	KeyID     hashutil.Digest
	ValueID   hashutil.Digest
}

func NewInsertValue(mappingID, keyID, valueID hashutil.Digest) Update {
	return Update{Kind: InsertValue, MappingID: mappingID, KeyID: keyID, ValueID: valueID}
}

func NewUpdateValue(mappingID hashutil.Digest, index int, keyID, valueID hashutil.Digest) Update {
	return Update{Kind: UpdateValue, MappingID: mappingID, Index: index, KeyID: keyID, ValueID: valueID}
}

func NewRemoveValue(mappingID hashutil.Digest, index int) Update {
	return Update{Kind: RemoveValue, MappingID: mappingID, Index: index}
}

func NewInsertMapping(mappingID hashutil.Digest) Update {
	return Update{Kind: InsertMapping, MappingID: mappingID}
}

func NewRemoveMapping(mappingID hashutil.Digest) Update {
	return Update{Kind: RemoveMapping, MappingID: mappingID}
}

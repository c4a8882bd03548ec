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

package kv

// Table names the six backend maps a FinalizeStorage is built from. A
// MemoryMap does not need them for anything functional, but they give the
// logger and test fixtures a stable name to tag batches and entries with
// instead of a Go type name.
type Table string

const (
	// ProgramIDMap: ProgramID -> insertion-ordered set of MappingName.
	ProgramIDMap Table = "ProgramIDMap"
	// ProgramIndexMap: ProgramID -> dense 0..N deployment index.
	ProgramIndexMap Table = "ProgramIndexMap"
	// MappingIDMap: (ProgramID, MappingName) -> mapping_id.
	MappingIDMap Table = "MappingIDMap"
	// KeyValueIDMap: mapping_id -> insertion-ordered map key_id -> value_id.
	KeyValueIDMap Table = "KeyValueIDMap"
	// KeyMap: key_id -> Key.
	KeyMap Table = "KeyMap"
	// ValueMap: key_id -> Value.
	ValueMap Table = "ValueMap"
)

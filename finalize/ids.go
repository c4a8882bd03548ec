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

import "github.com/erigontech/finalizestore/hashutil"

// ProgramMapping is the composite key MappingIDMap is indexed by.
type ProgramMapping[P, M hashutil.Encodable] struct {
	Program P
	Mapping M
}

// mappingID computes H(program_id ‖ mapping_name).
func mappingID[P, M hashutil.Encodable](p P, m M) hashutil.Digest {
	return hashutil.H(p.Bits(), m.Bits())
}

// keyID computes H(mapping_id ‖ H(key)).
func keyID[K hashutil.Encodable](mappingID hashutil.Digest, key K) hashutil.Digest {
	return hashutil.H(mappingID.Bits(), hashutil.H(key.Bits()).Bits())
}

// valueID computes H(key_id ‖ H(value)).
func valueID[V hashutil.Encodable](keyID hashutil.Digest, value V) hashutil.Digest {
	return hashutil.H(keyID.Bits(), hashutil.H(value.Bits()).Bits())
}

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

package hashutil_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/finalizestore/hashutil"
)

func TestHDeterministic(t *testing.T) {
	a := hashutil.H([]byte("foo"), []byte("bar"))
	b := hashutil.H([]byte("foo"), []byte("bar"))
	require.Equal(t, a, b)
}

func TestHDomainSeparatedFromConcat(t *testing.T) {
	a := hashutil.H([]byte("foo"), []byte("bar"))
	b := hashutil.H([]byte("foob"), []byte("ar"))
	require.NotEqual(t, a, b)
}

func TestHLeafNodeDomainSeparation(t *testing.T) {
	leaf := hashutil.HashLeaf([]byte("x"))
	h := hashutil.H([]byte("x"))
	require.NotEqual(t, leaf, h)
}

func TestHashNodeOrderMatters(t *testing.T) {
	l := hashutil.HashLeaf([]byte("left"))
	r := hashutil.HashLeaf([]byte("right"))
	require.NotEqual(t, hashutil.HashNode(l, r), hashutil.HashNode(r, l))
}

func TestConcat(t *testing.T) {
	require.Equal(t, []byte("ab"), hashutil.Concat([]byte("a"), []byte("b")))
	require.Equal(t, []byte{}, hashutil.Concat())
}

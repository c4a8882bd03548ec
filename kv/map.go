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

// Package kv supplies the generic backend-map capability the finalize store's
// six data maps are built on: point lookup, point mutation, insertion-ordered
// iteration, and atomic batching.
package kv

// Pair is one insertion-ordered entry returned by Map.Iter.
type Pair[K comparable, V any] struct {
	Key   K
	Value V
}

// Map is the capability set every one of FinalizeStorage's six maps is
// polymorphic over. Concrete backends (MemoryMap here; a durable backend is
// out of scope) are chosen at construction.
type Map[K comparable, V any] interface {
	// Get returns the committed value for k, ignoring any open batch.
	Get(k K) (V, bool)
	// GetSpeculative returns the pending-batch view of k if a batch is open,
	// else falls back to the committed view.
	GetSpeculative(k K) (V, bool)
	// ContainsKey reports presence in the committed view.
	ContainsKey(k K) bool
	// Iter yields committed entries in insertion order.
	Iter() []Pair[K, V]
	// Keys yields committed keys in insertion order.
	Keys() []K
	// Values yields committed values in insertion order.
	Values() []V
	// Insert enqueues k->v into the open batch, or applies it immediately if
	// no batch is open.
	Insert(k K, v V)
	// Remove enqueues removal of k into the open batch, or applies it
	// immediately if no batch is open.
	Remove(k K)

	StartAtomic()
	IsAtomicInProgress() bool
	AbortAtomic()
	FinishAtomic()
}

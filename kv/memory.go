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

import (
	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru/v2"

	async "github.com/anacrolix/sync"
)

const defaultCacheSize = 1024

type memEntry[K comparable, V any] struct {
	seq uint64
	key K
	val V
}

type pendingOp[V any] struct {
	del bool
	val V
}

// MemoryMap is the in-memory reference backend for the Map capability set.
// Iteration order is insertion order, kept by a B-tree ordered on an
// insertion sequence number rather than the key itself -- it keeps Iter/Keys
// /Values cheap without forcing K to be ordered. Committed reads are cached
// in a small bounded LRU, refreshed on every committed insert and evicted on
// every committed removal; writes staged in an open batch do not touch it.
type MemoryMap[K comparable, V any] struct {
	mu    async.RWMutex
	byKey map[K]*memEntry[K, V]
	order *btree.BTreeG[*memEntry[K, V]]
	seq   uint64
	cache *lru.Cache[K, V]

	batchDepth   int
	pending      map[K]*pendingOp[V]
	pendingOrder []K
}

// NewMemoryMap returns an empty MemoryMap.
func NewMemoryMap[K comparable, V any]() *MemoryMap[K, V] {
	cache, err := lru.New[K, V](defaultCacheSize)
	if err != nil {
		// lru.New only errors on a non-positive size, and defaultCacheSize is fixed.
		panic(err)
	}
	return &MemoryMap[K, V]{
		byKey: make(map[K]*memEntry[K, V]),
		order: btree.NewG(32, func(a, b *memEntry[K, V]) bool { return a.seq < b.seq }),
		cache: cache,
	}
}

func (m *MemoryMap[K, V]) Get(k K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCommittedLocked(k)
}

func (m *MemoryMap[K, V]) getCommittedLocked(k K) (V, bool) {
	if v, ok := m.cache.Get(k); ok {
		return v, ok
	}
	e, ok := m.byKey[k]
	if !ok {
		var zero V
		return zero, false
	}
	m.cache.Add(k, e.val)
	return e.val, true
}

func (m *MemoryMap[K, V]) GetSpeculative(k K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.batchDepth > 0 {
		if op, ok := m.pending[k]; ok {
			if op.del {
				var zero V
				return zero, false
			}
			return op.val, true
		}
	}
	return m.getCommittedLocked(k)
}

func (m *MemoryMap[K, V]) ContainsKey(k K) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byKey[k]
	return ok
}

func (m *MemoryMap[K, V]) Iter() []Pair[K, V] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Pair[K, V], 0, len(m.byKey))
	m.order.Ascend(func(e *memEntry[K, V]) bool {
		out = append(out, Pair[K, V]{Key: e.key, Value: e.val})
		return true
	})
	return out
}

func (m *MemoryMap[K, V]) Keys() []K {
	pairs := m.Iter()
	out := make([]K, len(pairs))
	for i, p := range pairs {
		out[i] = p.Key
	}
	return out
}

func (m *MemoryMap[K, V]) Values() []V {
	pairs := m.Iter()
	out := make([]V, len(pairs))
	for i, p := range pairs {
		out[i] = p.Value
	}
	return out
}

func (m *MemoryMap[K, V]) Insert(k K, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batchDepth > 0 {
		if _, staged := m.pending[k]; !staged {
			m.pendingOrder = append(m.pendingOrder, k)
		}
		m.pending[k] = &pendingOp[V]{val: v}
		return
	}
	m.commitInsertLocked(k, v)
}

func (m *MemoryMap[K, V]) Remove(k K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batchDepth > 0 {
		if _, staged := m.pending[k]; !staged {
			m.pendingOrder = append(m.pendingOrder, k)
		}
		m.pending[k] = &pendingOp[V]{del: true}
		return
	}
	m.commitRemoveLocked(k)
}

func (m *MemoryMap[K, V]) commitInsertLocked(k K, v V) {
	if e, ok := m.byKey[k]; ok {
		e.val = v
	} else {
		e := &memEntry[K, V]{seq: m.seq, key: k, val: v}
		m.seq++
		m.byKey[k] = e
		m.order.ReplaceOrInsert(e)
	}
	m.cache.Add(k, v)
}

func (m *MemoryMap[K, V]) commitRemoveLocked(k K) {
	e, ok := m.byKey[k]
	if !ok {
		return
	}
	m.order.Delete(e)
	delete(m.byKey, k)
	m.cache.Remove(k)
}

func (m *MemoryMap[K, V]) StartAtomic() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batchDepth == 0 {
		m.pending = make(map[K]*pendingOp[V])
		m.pendingOrder = nil
	}
	m.batchDepth++
}

func (m *MemoryMap[K, V]) IsAtomicInProgress() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batchDepth > 0
}

func (m *MemoryMap[K, V]) AbortAtomic() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchDepth = 0
	m.pending = nil
	m.pendingOrder = nil
}

func (m *MemoryMap[K, V]) FinishAtomic() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batchDepth == 0 {
		return
	}
	m.batchDepth--
	if m.batchDepth > 0 {
		return
	}
	for _, k := range m.pendingOrder {
		op := m.pending[k]
		if op.del {
			m.commitRemoveLocked(k)
		} else {
			m.commitInsertLocked(k, op.val)
		}
	}
	m.pending = nil
	m.pendingOrder = nil
}

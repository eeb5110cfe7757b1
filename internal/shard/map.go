// Package shard provides a string-keyed map split across independently
// locked shards. Values are expected to carry their own lock when they are
// mutated in place; the shard lock only guards membership.
package shard

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultCount is used when New is given a non-positive shard count.
const DefaultCount = 32

type bucket[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

// Map is a sharded map from string keys to V.
type Map[V any] struct {
	buckets []*bucket[V]
}

// New creates a Map with n shards.
func New[V any](n int) *Map[V] {
	if n <= 0 {
		n = DefaultCount
	}
	m := &Map[V]{buckets: make([]*bucket[V], n)}
	for i := range m.buckets {
		m.buckets[i] = &bucket[V]{m: make(map[string]V)}
	}
	return m
}

// Index returns the shard index that owns key.
func (m *Map[V]) Index(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(m.buckets)))
}

func (m *Map[V]) bucketFor(key string) *bucket[V] {
	return m.buckets[m.Index(key)]
}

// Get returns the value stored under key.
func (m *Map[V]) Get(key string) (V, bool) {
	b := m.bucketFor(key)
	b.mu.RLock()
	v, ok := b.m[key]
	b.mu.RUnlock()
	return v, ok
}

// GetOrCreate returns the value under key, creating it with create when it
// does not exist. create runs under the shard lock and must not block.
func (m *Map[V]) GetOrCreate(key string, create func() V) V {
	b := m.bucketFor(key)
	b.mu.RLock()
	v, ok := b.m[key]
	b.mu.RUnlock()
	if ok {
		return v
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok = b.m[key]; ok {
		return v
	}
	v = create()
	b.m[key] = v
	return v
}

// Set stores v under key.
func (m *Map[V]) Set(key string, v V) {
	b := m.bucketFor(key)
	b.mu.Lock()
	b.m[key] = v
	b.mu.Unlock()
}

// Delete removes key.
func (m *Map[V]) Delete(key string) {
	b := m.bucketFor(key)
	b.mu.Lock()
	delete(b.m, key)
	b.mu.Unlock()
}

// DeleteIf removes every entry for which pred returns true and reports how
// many were removed. Shards are visited one at a time.
func (m *Map[V]) DeleteIf(pred func(key string, v V) bool) int {
	removed := 0
	for _, b := range m.buckets {
		b.mu.Lock()
		for k, v := range b.m {
			if pred(k, v) {
				delete(b.m, k)
				removed++
			}
		}
		b.mu.Unlock()
	}
	return removed
}

// Range calls fn for every entry until fn returns false. Each shard is read
// under its own read lock, so the view is not a global snapshot.
func (m *Map[V]) Range(fn func(key string, v V) bool) {
	for _, b := range m.buckets {
		b.mu.RLock()
		for k, v := range b.m {
			if !fn(k, v) {
				b.mu.RUnlock()
				return
			}
		}
		b.mu.RUnlock()
	}
}

// Len returns the total number of entries.
func (m *Map[V]) Len() int {
	n := 0
	for _, b := range m.buckets {
		b.mu.RLock()
		n += len(b.m)
		b.mu.RUnlock()
	}
	return n
}

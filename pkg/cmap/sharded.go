package cmap

import (
	"iter"
	"math/bits"
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultShards is the shard count used by New.
const DefaultShards = 16

type shard[K ~string, V any] struct {
	sync.RWMutex
	m map[K]V
}

// Map is safe for concurrent use.
type Map[K ~string, V any] struct {
	shards []shard[K, V]
	mask   uint32
}

func New[K ~string, V any]() *Map[K, V] {
	return NewWithShards[K, V](DefaultShards)
}

// NewWithShards rounds n up to a power of two. n < 1 selects DefaultShards.
func NewWithShards[K ~string, V any](n int) *Map[K, V] {
	if n < 1 {
		n = DefaultShards
	}
	n = 1 << bits.Len(uint(n-1))

	m := &Map[K, V]{shards: make([]shard[K, V], n), mask: uint32(n - 1)}
	for i := range m.shards {
		m.shards[i].m = make(map[K]V)
	}
	return m
}

func (m *Map[K, V]) shardFor(key K) *shard[K, V] {
	return &m.shards[murmur3.Sum32([]byte(key))&m.mask]
}

func (m *Map[K, V]) Get(key K) (v V, ok bool) {
	s := m.shardFor(key)
	s.RLock()
	v, ok = s.m[key]
	s.RUnlock()
	return v, ok
}

func (m *Map[K, V]) Set(key K, v V) {
	s := m.shardFor(key)
	s.Lock()
	s.m[key] = v
	s.Unlock()
}

// Delete removes key and returns the value it held.
func (m *Map[K, V]) Delete(key K) (v V, ok bool) {
	s := m.shardFor(key)
	s.Lock()
	if v, ok = s.m[key]; ok {
		delete(s.m, key)
	}
	s.Unlock()
	return v, ok
}

// LoadOrStore returns the value stored under key if there is one.
// Otherwise it stores v and returns it. loaded reports which happened.
func (m *Map[K, V]) LoadOrStore(key K, v V) (actual V, loaded bool) {
	s := m.shardFor(key)
	s.Lock()
	defer s.Unlock()
	if cur, ok := s.m[key]; ok {
		return cur, true
	}
	s.m[key] = v
	return v, false
}

func (m *Map[K, V]) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.RLock()
		n += len(s.m)
		s.RUnlock()
	}
	return n
}

// All yields every entry. The shard being visited is read-locked while
// the loop body runs, so the body must not write to the map.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for i := range m.shards {
			s := &m.shards[i]
			s.RLock()
			for k, v := range s.m {
				if !yield(k, v) {
					s.RUnlock()
					return
				}
			}
			s.RUnlock()
		}
	}
}

// Shards returns the shard count.
func (m *Map[K, V]) Shards() int {
	return len(m.shards)
}

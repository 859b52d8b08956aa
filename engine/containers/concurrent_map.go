package containers

import (
	"hash/fnv"
	"sync"
)

const (
	// Must be a power of 2.
	shardCount = 16
	shardMask  = shardCount - 1
)

// Hasher computes the shard hash of a key.
type Hasher[K any] func(K) uint64

// StringHasher computes FNV-1a of a string key.
func StringHasher(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

type mapShard[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
}

// ConcurrentMap is a sharded map safe for concurrent insert and lookup.
// LoadOrStore gives callers an insert-or-find with an "inserted" result so
// exactly one of several racing callers learns it created the entry.
type ConcurrentMap[K comparable, V any] struct {
	shards [shardCount]*mapShard[K, V]
	hasher Hasher[K]
}

func NewConcurrentMap[K comparable, V any](hasher Hasher[K]) *ConcurrentMap[K, V] {
	m := &ConcurrentMap[K, V]{hasher: hasher}
	for i := range m.shards {
		m.shards[i] = &mapShard[K, V]{entries: make(map[K]V)}
	}
	return m
}

func (m *ConcurrentMap[K, V]) shard(key K) *mapShard[K, V] {
	return m.shards[m.hasher(key)&shardMask]
}

// Load returns the value stored under key.
func (m *ConcurrentMap[K, V]) Load(key K) (V, bool) {
	s := m.shard(key)
	s.mu.RLock()
	v, ok := s.entries[key]
	s.mu.RUnlock()
	return v, ok
}

// LoadOrStore returns the existing value for key, or stores the value built
// by create and returns it with inserted set. create runs under the shard
// lock and only for the winning caller.
func (m *ConcurrentMap[K, V]) LoadOrStore(key K, create func() V) (value V, inserted bool) {
	s := m.shard(key)

	s.mu.RLock()
	v, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return v, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check, another caller may have won the race.
	if v, ok := s.entries[key]; ok {
		return v, false
	}
	v = create()
	s.entries[key] = v
	return v, true
}

// Acquire is LoadOrStore with a hook. onAcquire runs on the returned value
// while the shard lock is held, so it cannot interleave with DeleteIf on
// the same key.
func (m *ConcurrentMap[K, V]) Acquire(key K, create func() V, onAcquire func(V)) (value V, inserted bool) {
	s := m.shard(key)

	s.mu.RLock()
	if v, ok := s.entries[key]; ok {
		onAcquire(v)
		s.mu.RUnlock()
		return v, false
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	if !ok {
		v = create()
		s.entries[key] = v
	}
	onAcquire(v)
	return v, !ok
}

// DeleteIf removes key when cond holds for its value. cond is evaluated
// under the shard write lock.
func (m *ConcurrentMap[K, V]) DeleteIf(key K, cond func(V) bool) bool {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	if !ok || !cond(v) {
		return false
	}
	delete(s.entries, key)
	return true
}

// Delete removes key and reports whether it was present.
func (m *ConcurrentMap[K, V]) Delete(key K) bool {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok
}

// Range calls fn for every entry until fn returns false. Each shard is
// snapshotted before fn runs, so fn may call Delete.
func (m *ConcurrentMap[K, V]) Range(fn func(key K, value V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		keys := make([]K, 0, len(s.entries))
		values := make([]V, 0, len(s.entries))
		for k, v := range s.entries {
			keys = append(keys, k)
			values = append(values, v)
		}
		s.mu.RUnlock()

		for i := range keys {
			if !fn(keys[i], values[i]) {
				return
			}
		}
	}
}

// Keys returns a snapshot of all keys.
func (m *ConcurrentMap[K, V]) Keys() []K {
	keys := make([]K, 0, m.Len())
	m.Range(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

func (m *ConcurrentMap[K, V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

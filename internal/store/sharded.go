package store

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

type shard[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

// shardedMap is a lock-striped map keyed by string. Each key lives in exactly
// one shard, so operations on unrelated keys do not contend.
type shardedMap[V any] struct {
	shards [shardCount]*shard[V]
}

func newShardedMap[V any]() *shardedMap[V] {
	sm := &shardedMap[V]{}
	for i := range sm.shards {
		sm.shards[i] = &shard[V]{m: make(map[string]V)}
	}
	return sm
}

func (sm *shardedMap[V]) shardFor(key string) *shard[V] {
	return sm.shards[xxhash.Sum64String(key)%shardCount]
}

func (sm *shardedMap[V]) get(key string) (V, bool) {
	s := sm.shardFor(key)
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	return v, ok
}

func (sm *shardedMap[V]) set(key string, v V) {
	s := sm.shardFor(key)
	s.mu.Lock()
	s.m[key] = v
	s.mu.Unlock()
}

// setIfAbsent stores v only when key is unused and reports whether it did.
func (sm *shardedMap[V]) setIfAbsent(key string, v V) bool {
	s := sm.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.m[key]; exists {
		return false
	}
	s.m[key] = v
	return true
}

// update applies fn to the current value under the shard's write lock. fn is
// not called when key is absent.
func (sm *shardedMap[V]) update(key string, fn func(V) (V, error)) error {
	s := sm.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[key]
	if !ok {
		return errMissing
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	s.m[key] = next
	return nil
}

// each visits every value, one shard at a time. The result is a point-in-time
// view per shard, not across shards.
func (sm *shardedMap[V]) each(fn func(V)) {
	for _, s := range sm.shards {
		s.mu.RLock()
		for _, v := range s.m {
			fn(v)
		}
		s.mu.RUnlock()
	}
}

func (sm *shardedMap[V]) count(pred func(V) bool) int {
	n := 0
	for _, s := range sm.shards {
		s.mu.RLock()
		if pred == nil {
			n += len(s.m)
		} else {
			for _, v := range s.m {
				if pred(v) {
					n++
				}
			}
		}
		s.mu.RUnlock()
	}
	return n
}

func (sm *shardedMap[V]) clear() {
	for _, s := range sm.shards {
		s.mu.Lock()
		clear(s.m)
		s.mu.Unlock()
	}
}

package session

import (
	"hash/fnv"
	"sync"
)

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// shardedMap spreads identifiers over fixed shards so that unrelated
// sessions never contend on the same lock.
type shardedMap struct {
	shards [shardCount]*shard
}

func newShardedMap() *shardedMap {
	m := &shardedMap{}
	for i := range m.shards {
		m.shards[i] = &shard{handles: make(map[string]*Handle)}
	}
	return m
}

func (m *shardedMap) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return m.shards[h.Sum32()%shardCount]
}

func (m *shardedMap) load(id string) (*Handle, bool) {
	s := m.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[id]
	return h, ok
}

// store sets id to h and returns the handle it replaced, if any.
func (m *shardedMap) store(id string, h *Handle) *Handle {
	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.handles[id]
	s.handles[id] = h
	if old == h {
		return nil
	}
	return old
}

func (m *shardedMap) delete(id string) bool {
	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[id]
	delete(s.handles, id)
	return ok
}

// compareAndDelete removes id only while it still maps to h.
func (m *shardedMap) compareAndDelete(id string, h *Handle) bool {
	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles[id] != h {
		return false
	}
	delete(s.handles, id)
	return true
}

func (m *shardedMap) len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.handles)
		s.mu.RUnlock()
	}
	return n
}

package store

import (
	"math/bits"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/KanavDutta/creditfence/core"
)

// DefaultShards is the shard count used when none is given
const DefaultShards = 32

// MemoryStore provides thread-safe in-memory storage for buckets.
// Keys are spread over lock-sharded maps so unrelated identities rarely
// contend on the same lock.
type MemoryStore struct {
	shards []*shard
	mask   uint64
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// Ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store. The shard count is rounded
// up to a power of two; values below one use DefaultShards.
func NewMemoryStore(shards int) *MemoryStore {
	if shards < 1 {
		shards = DefaultShards
	}
	n := 1 << bits.Len(uint(shards-1))

	s := &MemoryStore{
		shards: make([]*shard, n),
		mask:   uint64(n - 1),
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*Entry)}
	}
	return s
}

// Shards returns the number of shards
func (s *MemoryStore) Shards() int {
	return len(s.shards)
}

func (s *MemoryStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)&s.mask]
}

// Load retrieves the entry for a given key
func (s *MemoryStore) Load(key string) (*Entry, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()
	return e, ok
}

// LoadOrCreate retrieves the entry for key, creating it with init if absent
func (s *MemoryStore) LoadOrCreate(key string, init func(*core.Bucket)) (*Entry, bool) {
	sh := s.shardFor(key)

	// Fast path: entry exists
	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()
	if ok {
		return e, false
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	// Double-check: another goroutine might have created it
	if e, ok = sh.entries[key]; ok {
		return e, false
	}

	e = &Entry{}
	if init != nil {
		init(&e.bucket)
	}
	sh.entries[key] = e
	return e, true
}

// RemoveIf removes entries whose bucket matches pred.
// Shards are processed one at a time so decisions on other shards proceed.
func (s *MemoryStore) RemoveIf(pred func(key string, b core.Bucket) bool) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			e.mu.Lock()
			if pred(key, e.bucket) {
				e.evicted = true
				delete(sh.entries, key)
				removed++
			}
			e.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the total number of entries in the store
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Clear removes all entries
func (s *MemoryStore) Clear() {
	s.RemoveIf(func(string, core.Bucket) bool { return true })
}

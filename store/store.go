package store

import (
	"sync"

	"github.com/KanavDutta/creditfence/core"
)

// Store defines the interface for bucket state storage.
// Implementations must be safe for concurrent use.
type Store interface {
	// LoadOrCreate returns the entry for key. If none exists, a new entry is
	// created, init is applied to its bucket before it becomes visible, and
	// created is true.
	LoadOrCreate(key string, init func(*core.Bucket)) (entry *Entry, created bool)

	// Load returns the entry for key, if any.
	Load(key string) (*Entry, bool)

	// RemoveIf deletes every entry whose bucket matches pred and returns the
	// number removed. Removed entries are marked evicted under their lock.
	RemoveIf(pred func(key string, b core.Bucket) bool) int

	// Len returns the number of entries.
	Len() int

	// Clear removes all entries.
	Clear()
}

// Entry guards one identity's bucket. Callers must hold the lock while
// reading or mutating the bucket, and must re-resolve the key if the entry
// turns out to be evicted.
type Entry struct {
	mu      sync.Mutex
	bucket  core.Bucket
	evicted bool
}

func (e *Entry) Lock()   { e.mu.Lock() }
func (e *Entry) Unlock() { e.mu.Unlock() }

// Bucket returns the guarded bucket. MUST be called with the entry locked.
func (e *Entry) Bucket() *core.Bucket {
	return &e.bucket
}

// Evicted reports whether the entry has been removed from its store.
// MUST be called with the entry locked.
func (e *Entry) Evicted() bool {
	return e.evicted
}

// Snapshot returns a copy of the bucket taken under the entry lock.
func (e *Entry) Snapshot() (core.Bucket, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bucket, !e.evicted
}

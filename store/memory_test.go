package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KanavDutta/creditfence/core"
)

func openAt(now time.Time) func(*core.Bucket) {
	return func(b *core.Bucket) {
		b.ResetForNewWindow(now, now.Add(time.Second), 3)
	}
}

func TestNewMemoryStore_Shards(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, DefaultShards},
		{-4, DefaultShards},
		{1, 1},
		{2, 2},
		{3, 4},
		{32, 32},
		{33, 64},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, NewMemoryStore(tt.in).Shards())
		})
	}
}

func TestMemoryStore_LoadOrCreate(t *testing.T) {
	s := NewMemoryStore(4)
	now := time.Now()

	e1, created := s.LoadOrCreate("user1", openAt(now))
	require.True(t, created)
	require.NotNil(t, e1)

	b, live := e1.Snapshot()
	assert.True(t, live)
	assert.Equal(t, 1, b.Count)
	assert.Equal(t, 3, b.Credits)
	assert.Equal(t, 1, s.Len())

	// Same key returns the same entry and skips init
	e2, created := s.LoadOrCreate("user1", func(*core.Bucket) {
		t.Error("init must not run for an existing key")
	})
	assert.False(t, created)
	assert.Same(t, e1, e2)

	e3, created := s.LoadOrCreate("user2", openAt(now))
	assert.True(t, created)
	assert.NotSame(t, e1, e3)
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_Load(t *testing.T) {
	s := NewMemoryStore(4)

	_, ok := s.Load("missing")
	assert.False(t, ok)

	created, _ := s.LoadOrCreate("k", openAt(time.Now()))
	got, ok := s.Load("k")
	require.True(t, ok)
	assert.Same(t, created, got)
}

func TestMemoryStore_RemoveIf(t *testing.T) {
	s := NewMemoryStore(8)
	now := time.Now()

	for i := 0; i < 10; i++ {
		s.LoadOrCreate(fmt.Sprintf("old-%d", i), openAt(now.Add(-time.Minute)))
		s.LoadOrCreate(fmt.Sprintf("new-%d", i), openAt(now))
	}
	require.Equal(t, 20, s.Len())

	old, _ := s.Load("old-0")

	removed := s.RemoveIf(func(_ string, b core.Bucket) bool {
		return b.Expired(now)
	})
	assert.Equal(t, 10, removed)
	assert.Equal(t, 10, s.Len())

	// Removed entries are marked so holders can detect eviction
	_, live := old.Snapshot()
	assert.False(t, live)

	// Nothing left to remove
	assert.Zero(t, s.RemoveIf(func(_ string, b core.Bucket) bool { return b.Expired(now) }))
}

func TestMemoryStore_Clear(t *testing.T) {
	s := NewMemoryStore(4)
	for i := 0; i < 5; i++ {
		s.LoadOrCreate(fmt.Sprintf("key%d", i), openAt(time.Now()))
	}
	s.Clear()
	assert.Zero(t, s.Len())
}

func TestMemoryStore_ConcurrentCreate(t *testing.T) {
	s := NewMemoryStore(16)
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	creations := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, created := s.LoadOrCreate("shared", openAt(now)); created {
				mu.Lock()
				creations++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, creations)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_ConcurrentAccessAndRemove(t *testing.T) {
	s := NewMemoryStore(8)
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("user%d", (id*100+j)%50)
				e, _ := s.LoadOrCreate(key, openAt(now))
				e.Lock()
				if !e.Evicted() {
					e.Bucket().AdvanceWithinWindow()
				}
				e.Unlock()
			}
		}(i)
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				s.RemoveIf(func(_ string, b core.Bucket) bool { return b.Count%2 == 0 })
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, s.Len(), 50)
}

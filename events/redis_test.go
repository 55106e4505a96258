package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KanavDutta/creditfence/core"
	"github.com/KanavDutta/creditfence/pkg/creditfence"
)

// newTestRedisSink connects to a local Redis, skipping the test if none is
// available. Skip with: go test -short
func newTestRedisSink(t *testing.T, maxLen int64) *RedisSink {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping Redis integration test")
	}

	sink := NewRedisSink(RedisConfig{
		Addr:   "localhost:6379",
		DB:     15, // Use separate DB for tests
		Stream: "creditfence:test:" + t.Name(),
		MaxLen: maxLen,
	})
	ctx := context.Background()
	if err := sink.Ping(ctx); err != nil {
		sink.Close()
		t.Skip("Redis not available:", err)
	}

	require.NoError(t, sink.Clear(ctx))
	t.Cleanup(func() {
		sink.Clear(context.Background())
		sink.Close()
	})
	return sink
}

func TestNewRedisSink_Defaults(t *testing.T) {
	sink := NewRedisSink(RedisConfig{Addr: "localhost:6379"})
	defer sink.Close()

	assert.Equal(t, DefaultStream, sink.Stream())
	assert.Equal(t, int64(DefaultMaxLen), sink.maxLen)
}

func TestRedisSink_WriteAndRecent(t *testing.T) {
	sink := newTestRedisSink(t, 1000)
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Millisecond)

	batch := []Event{
		NewDecisionEvent(creditfence.Decision{Key: "user1", Allowed: true, Tier: core.TierCount, Count: 2, Credits: 3}, at),
		NewDecisionEvent(creditfence.Decision{Key: "user1", Allowed: false, Tier: core.TierDenied}, at),
		NewSweepEvent("default", 5, 0, at),
	}
	require.NoError(t, sink.Write(ctx, batch))

	recent, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)

	// Newest first
	assert.Equal(t, batch[2].ID, recent[0].ID)
	assert.Equal(t, KindSweep, recent[0].Kind)
	assert.Equal(t, 5, recent[0].Removed)

	assert.Equal(t, "denied", recent[1].Tier)
	assert.False(t, recent[1].Allowed)

	assert.Equal(t, "user1", recent[2].Identity)
	assert.Equal(t, 2, recent[2].Count)
	assert.True(t, recent[2].At.Equal(at))
}

func TestRedisSink_Publisher(t *testing.T) {
	sink := newTestRedisSink(t, 1000)
	p := NewPublisher(sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	for i := 0; i < 10; i++ {
		p.ObserveDecision(creditfence.Decision{Key: "user1", Allowed: true, Tier: core.TierCount})
	}
	cancel()
	require.NoError(t, <-done)

	recent, err := sink.Recent(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, recent, 10)
	assert.Equal(t, int64(10), p.Published())
}

package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultStream = "creditfence:events"
	DefaultMaxLen = 100000
)

// RedisConfig for creating a Redis sink
type RedisConfig struct {
	Addr     string // Redis address (e.g., "localhost:6379")
	Password string // Redis password (empty for no auth)
	DB       int    // Redis database number
	Stream   string // Stream key (default: creditfence:events)
	MaxLen   int64  // Approximate stream cap (default: 100000)
}

// RedisSink appends events to a capped Redis stream.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

var _ Sink = (*RedisSink)(nil)

// NewRedisSink creates a new Redis stream sink
func NewRedisSink(cfg RedisConfig) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	stream := cfg.Stream
	if stream == "" {
		stream = DefaultStream
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}

	return &RedisSink{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

// Stream returns the stream key events are written to.
func (s *RedisSink) Stream() string {
	return s.stream
}

// Write appends the batch in one pipeline.
func (s *RedisSink) Write(ctx context.Context, batch []Event) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range batch {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: s.stream,
				MaxLen: s.maxLen,
				Approx: true,
				Values: e.Values(),
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("xadd to %s: %w", s.stream, err)
	}
	return nil
}

// Recent returns up to n of the newest events, newest first.
func (s *RedisSink) Recent(ctx context.Context, n int64) ([]Event, error) {
	msgs, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", s.stream, err)
	}
	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, eventFromValues(msg.Values))
	}
	return out, nil
}

// Clear deletes the stream.
func (s *RedisSink) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.stream).Err()
}

// Ping checks if Redis connection is alive
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisSink) Close() error {
	return s.client.Close()
}

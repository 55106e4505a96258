package creditfence

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/KanavDutta/creditfence/store"
)

// Option is a functional option for configuring a RateLimiter.
type Option func(*RateLimiter) error

// WithStore sets a custom bucket store.
// If not provided, a sharded in-memory store is used.
func WithStore(s store.Store) Option {
	return func(rl *RateLimiter) error {
		if s == nil {
			return fmt.Errorf("%w: store cannot be nil", ErrInvalidConfig)
		}
		rl.store = s
		return nil
	}
}

// WithShards sets the shard count of the default in-memory store.
// Ignored when WithStore is used.
func WithShards(n int) Option {
	return func(rl *RateLimiter) error {
		if n <= 0 {
			return fmt.Errorf("%w: shards must be positive", ErrInvalidConfig)
		}
		rl.shards = n
		return nil
	}
}

// WithClock replaces time.Now as the limiter's time source.
func WithClock(now func() time.Time) Option {
	return func(rl *RateLimiter) error {
		if now == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidConfig)
		}
		rl.now = now
		return nil
	}
}

// WithSweepInterval sets how often expired buckets are reclaimed.
// Default: the window length. Zero disables the background sweep; Sweep can
// still be called directly.
func WithSweepInterval(interval time.Duration) Option {
	return func(rl *RateLimiter) error {
		if interval < 0 {
			return fmt.Errorf("%w: sweep interval cannot be negative", ErrInvalidConfig)
		}
		rl.sweepInterval = interval
		rl.sweepIntervalSet = true
		return nil
	}
}

// WithLogger sets the logger used for sweep reports.
func WithLogger(logger *slog.Logger) Option {
	return func(rl *RateLimiter) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidConfig)
		}
		rl.logger = logger
		return nil
	}
}

// WithObserver registers an observer for decisions and sweeps.
// May be given more than once.
func WithObserver(o Observer) Option {
	return func(rl *RateLimiter) error {
		if o == nil {
			return fmt.Errorf("%w: observer cannot be nil", ErrInvalidConfig)
		}
		rl.observers = append(rl.observers, o)
		return nil
	}
}

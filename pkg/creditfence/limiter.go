package creditfence

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/KanavDutta/creditfence/core"
	"github.com/KanavDutta/creditfence/store"
)

// Decision contains the result of a rate limit check.
type Decision struct {
	// Allowed indicates whether the request should be allowed (true) or denied (false)
	Allowed bool

	// Tier is the rule that produced the verdict
	Tier core.Tier

	// Count is the number of hard-count admissions in the current window
	Count int

	// Credits is the soft overflow allowance left in the current window
	Credits int

	// Limit is the hard count per window
	Limit int

	// MaxCredits is the credit allowance each window starts with
	MaxCredits int

	// Remaining is how many more requests the current window admits
	Remaining int

	// ResetAt is when the current window ends
	ResetAt time.Time

	// RetryAfter is how long until the window rolls over.
	// This is 0 if Allowed is true
	RetryAfter time.Duration

	// Key is the identity that was checked
	Key string

	// Route is the route whose policy applied, empty for a bare limiter
	Route string
}

// RateLimiter admits requests per identity under a fixed window with a hard
// request count and a soft credit overflow. It is safe for concurrent use.
//
// Construction starts a background sweeper that reclaims buckets whose
// window has elapsed; Close stops it.
type RateLimiter struct {
	policy    core.Policy
	window    *core.FixedWindow
	store     store.Store
	shards    int
	now       func() time.Time
	logger    *slog.Logger
	observers observers
	route     string

	sweepInterval    time.Duration
	sweepIntervalSet bool

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRateLimiter creates a limiter admitting maxRequests per window of
// windowSeconds, plus up to maxCredits overflow requests per window.
//
// Example:
//
//	limiter, err := NewRateLimiter(5, 5, 3) // 5 req + 3 credits every 5s
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer limiter.Close()
func NewRateLimiter(maxRequests, windowSeconds, maxCredits int, opts ...Option) (*RateLimiter, error) {
	window, err := core.WindowFromSeconds(windowSeconds)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return newRateLimiter(core.Policy{
		MaxRequests: maxRequests,
		Window:      window,
		MaxCredits:  maxCredits,
	}, opts...)
}

func newRateLimiter(policy core.Policy, opts ...Option) (*RateLimiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	rl := &RateLimiter{
		policy: policy,
		window: core.NewFixedWindow(policy),
		shards: store.DefaultShards,
		now:    time.Now,
		logger: slog.Default(),
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(rl); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if rl.store == nil {
		rl.store = store.NewMemoryStore(rl.shards)
	}
	if !rl.sweepIntervalSet {
		rl.sweepInterval = policy.Window
	}

	rl.startSweeper()
	return rl, nil
}

// withRoute tags decisions and sweep logs with the route a limiter serves.
func withRoute(route string) Option {
	return func(rl *RateLimiter) error {
		rl.route = route
		return nil
	}
}

// Policy returns the policy the limiter enforces.
func (rl *RateLimiter) Policy() core.Policy {
	return rl.policy
}

// IsLimited reports whether a request from identity should be throttled.
// An empty identity is always limited.
func (rl *RateLimiter) IsLimited(identity string) bool {
	d, err := rl.Allow(identity)
	if err != nil {
		return true
	}
	return !d.Allowed
}

// Allow checks if a request from the given identity is allowed and returns
// the full decision.
func (rl *RateLimiter) Allow(identity string) (*Decision, error) {
	if identity == "" {
		return nil, ErrInvalidKey
	}

	res := rl.decide(identity)
	d := rl.decision(identity, res)
	rl.observers.decision(*d)
	return d, nil
}

// decide runs the window algorithm under the identity's entry lock.
func (rl *RateLimiter) decide(identity string) core.CheckResult {
	for {
		now := rl.now()

		var opened core.CheckResult
		entry, created := rl.store.LoadOrCreate(identity, func(b *core.Bucket) {
			opened = rl.window.Open(b, now)
		})
		if created {
			return opened
		}

		entry.Lock()
		// Swept between lookup and lock: resolve again so the admission lands
		// in the live bucket
		if entry.Evicted() {
			entry.Unlock()
			continue
		}
		res := rl.window.Check(entry.Bucket(), now)
		entry.Unlock()
		return res
	}
}

func (rl *RateLimiter) decision(identity string, res core.CheckResult) *Decision {
	remaining := rl.policy.MaxRequests - res.Count
	if remaining < 0 {
		remaining = 0
	}
	remaining += res.Credits

	return &Decision{
		Allowed:    res.Allowed,
		Tier:       res.Tier,
		Count:      res.Count,
		Credits:    res.Credits,
		Limit:      rl.policy.MaxRequests,
		MaxCredits: rl.policy.MaxCredits,
		Remaining:  remaining,
		ResetAt:    res.WindowEnd,
		RetryAfter: res.RetryAfter,
		Key:        identity,
		Route:      rl.route,
	}
}

// Peek returns a copy of the identity's bucket without counting a request.
func (rl *RateLimiter) Peek(identity string) (core.Bucket, bool) {
	entry, ok := rl.store.Load(identity)
	if !ok {
		return core.Bucket{}, false
	}
	return entry.Snapshot()
}

// Len returns the number of identities currently tracked.
func (rl *RateLimiter) Len() int {
	return rl.store.Len()
}

// Sweep removes every bucket whose window has elapsed and returns how many
// were removed. Buckets still inside their window are never touched.
func (rl *RateLimiter) Sweep() int {
	now := rl.now()
	removed := rl.store.RemoveIf(func(_ string, b core.Bucket) bool {
		return b.Expired(now)
	})
	remaining := rl.store.Len()

	rl.logger.Debug("swept expired buckets",
		"route", rl.route,
		"removed", removed,
		"remaining", remaining,
	)
	rl.observers.sweep(rl.route, removed, remaining)
	return removed
}

func (rl *RateLimiter) startSweeper() {
	if rl.sweepInterval <= 0 {
		return
	}
	rl.wg.Add(1)
	go rl.sweepLoop(rl.sweepInterval)
}

func (rl *RateLimiter) sweepLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Sweep()
		case <-rl.done:
			return
		}
	}
}

// Close stops the background sweeper and waits for it to exit. Decisions
// keep working after Close; only reclamation stops. Safe to call repeatedly.
func (rl *RateLimiter) Close() error {
	rl.closeOnce.Do(func() {
		close(rl.done)
	})
	rl.wg.Wait()
	return nil
}

package creditfence

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
)

// DefaultRoute tags decisions made under the default policy.
const DefaultRoute = "default"

// Fence applies per-route RateLimiters to HTTP requests. Routes with their
// own enabled policy get a dedicated limiter; disabled routes are exempt;
// everything else shares the default limiter.
type Fence struct {
	config         *Config
	defaults       *RateLimiter
	routes         map[string]*RateLimiter
	keyExtractor   KeyExtractor
	routeExtractor RouteExtractorFunc
	limiterOpts    []Option
	logger         *slog.Logger
}

// FenceOption is a functional option for configuring a Fence.
type FenceOption func(*Fence) error

// RouteExtractorFunc maps a request path to the route used for policy lookup.
type RouteExtractorFunc func(path string) string

// WithKeyExtractor overrides the extractor named in the config.
func WithKeyExtractor(extractor KeyExtractor) FenceOption {
	return func(f *Fence) error {
		if extractor == nil {
			return fmt.Errorf("%w: key extractor cannot be nil", ErrInvalidConfig)
		}
		f.keyExtractor = extractor
		return nil
	}
}

// WithRouteExtractor sets the function that maps a path to a route.
// By default, r.URL.Path is used as is.
func WithRouteExtractor(fn RouteExtractorFunc) FenceOption {
	return func(f *Fence) error {
		if fn == nil {
			return fmt.Errorf("%w: route extractor cannot be nil", ErrInvalidConfig)
		}
		f.routeExtractor = fn
		return nil
	}
}

// WithLimiterOptions passes options to every limiter the fence creates.
func WithLimiterOptions(opts ...Option) FenceOption {
	return func(f *Fence) error {
		f.limiterOpts = append(f.limiterOpts, opts...)
		return nil
	}
}

// WithRequestLogger sets the logger used to report denied and failed requests.
func WithRequestLogger(logger *slog.Logger) FenceOption {
	return func(f *Fence) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidConfig)
		}
		f.logger = logger
		return nil
	}
}

// NewFence builds the limiters described by cfg. A nil cfg uses NewConfig.
func NewFence(cfg *Config, opts ...FenceOption) (*Fence, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := &Fence{
		config:         cfg,
		routes:         make(map[string]*RateLimiter),
		routeExtractor: func(path string) string { return path },
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if f.keyExtractor == nil {
		extractor, err := ParseKeyExtractorConfig(cfg.KeyExtractor)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key extractor config: %w", err)
		}
		f.keyExtractor = extractor
	}

	if cfg.Defaults.Enabled {
		rl, err := f.newLimiter(DefaultRoute, cfg.Defaults)
		if err != nil {
			return nil, err
		}
		f.defaults = rl
	}

	for route, policy := range cfg.Policies {
		if !policy.Enabled {
			continue
		}
		rl, err := f.newLimiter(route, policy)
		if err != nil {
			f.Close()
			return nil, err
		}
		f.routes[route] = rl
	}

	return f, nil
}

func (f *Fence) newLimiter(route string, policy PolicyConfig) (*RateLimiter, error) {
	opts := make([]Option, 0, len(f.limiterOpts)+2)
	if f.config.Shards > 0 {
		opts = append(opts, WithShards(f.config.Shards))
	}
	opts = append(opts, f.limiterOpts...)
	opts = append(opts, withRoute(route))

	p, err := policy.Policy()
	if err != nil {
		return nil, fmt.Errorf("route %s: %w: %w", route, ErrInvalidConfig, err)
	}
	rl, err := newRateLimiter(p, opts...)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", route, err)
	}
	return rl, nil
}

// Limiter returns the limiter that serves route, or nil if the route is exempt.
func (f *Fence) Limiter(route string) *RateLimiter {
	if rl, ok := f.routes[route]; ok {
		return rl
	}
	if policy, ok := f.config.Policies[route]; ok && !policy.Enabled {
		return nil
	}
	return f.defaults
}

// AllowRequest extracts the identity and route from r and checks the
// matching limiter. Exempt routes are always allowed.
func (f *Fence) AllowRequest(r *http.Request) (*Decision, error) {
	key, err := f.keyExtractor(r)
	if err != nil {
		return nil, fmt.Errorf("key extraction failed: %w", err)
	}

	route := f.routeExtractor(r.URL.Path)

	rl := f.Limiter(route)
	if rl == nil {
		return &Decision{
			Allowed:   true,
			Remaining: math.MaxInt32,
			Key:       key,
			Route:     route,
		}, nil
	}

	decision, err := rl.Allow(key)
	if err != nil {
		return nil, err
	}
	decision.Route = route
	return decision, nil
}

// Middleware returns an HTTP middleware that applies rate limiting.
//
// Headers set on every limited route:
//   - X-RateLimit-Limit: requests admitted per window, credits included
//   - X-RateLimit-Remaining: requests left in the current window
//   - X-RateLimit-Reset: Unix time the current window ends
//   - Retry-After: seconds until the window ends (denied requests only)
func (f *Fence) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, err := f.AllowRequest(r)
		if err != nil {
			f.logger.Warn("Rate limit check failed", "path", r.URL.Path, "error", err)
			if errors.Is(err, ErrKeyExtractionFailed) {
				http.Error(w, "Unable to identify client", http.StatusBadRequest)
				return
			}
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		// Exempt route
		if decision.Limit == 0 {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit+decision.MaxCredits))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			retryAfter := RetryAfterSeconds(decision)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			f.logger.Warn("Rate limit exceeded",
				"key", decision.Key,
				"route", decision.Route,
				"limit", decision.Limit,
				"credits", decision.MaxCredits,
				"retry_after", retryAfter,
			)

			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RetryAfterSeconds rounds a denial's RetryAfter up to whole seconds, at least 1.
func RetryAfterSeconds(d *Decision) int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Close stops the sweepers of every limiter the fence owns.
func (f *Fence) Close() error {
	if f.defaults != nil {
		f.defaults.Close()
	}
	for _, rl := range f.routes {
		rl.Close()
	}
	return nil
}

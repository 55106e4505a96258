// Package creditfence provides per-identity rate limiting with an overflow
// allowance.
//
// Each identity gets a fixed window. Inside a window the first MaxRequests
// calls are admitted on count; after that, up to MaxCredits further calls are
// admitted by spending credits. Once both are exhausted every call is denied
// until the window ends. The next call after that opens a fresh window with
// the count at 1 and credits refilled. Unused credits do not carry over.
//
// # Quick Start
//
//	limiter, err := creditfence.NewRateLimiter(5, 5, 3) // 5 req + 3 credits per 5s
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer limiter.Close()
//
//	if limiter.IsLimited("user-123") {
//	    // reject
//	}
//
// Allow returns the full Decision (tier, count, credits, reset time) instead
// of a bool.
//
// # Options
//
//	creditfence.WithShards(64)                  // lock shards in the memory store
//	creditfence.WithSweepInterval(time.Minute)  // 0 disables the background sweep
//	creditfence.WithLogger(slog.Default())
//	creditfence.WithObserver(metrics)           // decision and sweep hooks
//
// The sweeper removes buckets whose window has ended. Construction starts it
// and Close stops it. Removing a bucket is never observable: the identity's
// next call would have opened a new window anyway.
//
// # HTTP
//
// A Fence maps request routes to limiters built from a Config:
//
//	cfg, err := creditfence.LoadConfigFromFile("creditfence.yaml")
//	fence, err := creditfence.NewFence(cfg)
//	http.Handle("/api/", fence.Middleware(apiHandler))
//
// The middleware sets X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset on every limited route, plus Retry-After on 429 responses.
//
// Example YAML configuration:
//
//	defaults:
//	  max_requests: 100
//	  window_seconds: 60
//	  max_credits: 20
//	  enabled: true
//
//	policies:
//	  "/api/login":
//	    max_requests: 5
//	    window_seconds: 60
//	    max_credits: 0
//	    enabled: true
//	  "/health":
//	    enabled: false
//
//	key_extractor: "ip"
//
// Key extractors: ip, ip-proxy, bearer, header:<name>, cookie:<name> and
// static:<key>. ExtractComposite chains several with fallback.
package creditfence

package creditfence

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	cfg := NewConfig()
	cfg.Defaults = PolicyConfig{MaxRequests: 2, WindowSeconds: 60, MaxCredits: 1, Enabled: true}
	return cfg
}

func newTestFence(t *testing.T, cfg *Config, opts ...FenceOption) *Fence {
	t.Helper()
	opts = append(opts, WithLimiterOptions(WithSweepInterval(0)))
	f, err := NewFence(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("success"))
	})
}

func TestNewFence(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		opts    []FenceOption
		wantErr bool
	}{
		{name: "nil config uses defaults", cfg: nil},
		{name: "test config", cfg: testConfig()},
		{name: "with key extractor", cfg: testConfig(), opts: []FenceOption{WithKeyExtractor(ExtractIPWithProxy())}},
		{name: "nil key extractor", cfg: testConfig(), opts: []FenceOption{WithKeyExtractor(nil)}, wantErr: true},
		{name: "nil route extractor", cfg: testConfig(), opts: []FenceOption{WithRouteExtractor(nil)}, wantErr: true},
		{name: "nil logger", cfg: testConfig(), opts: []FenceOption{WithRequestLogger(nil)}, wantErr: true},
		{
			name: "invalid defaults",
			cfg: &Config{
				Defaults: PolicyConfig{MaxRequests: 0, WindowSeconds: 1, Enabled: true},
			},
			wantErr: true,
		},
		{
			name: "bad limiter option",
			cfg:  testConfig(),
			opts: []FenceOption{WithLimiterOptions(WithShards(-1))},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFence(tt.cfg, tt.opts...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, f)
			f.Close()
		})
	}
}

func TestFence_Limiter(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.SetPolicy("/api/login", PolicyConfig{MaxRequests: 1, WindowSeconds: 60, Enabled: true}))
	require.NoError(t, cfg.SetPolicy("/health", PolicyConfig{Enabled: false}))
	f := newTestFence(t, cfg)

	login := f.Limiter("/api/login")
	require.NotNil(t, login)
	assert.Equal(t, 1, login.Policy().MaxRequests)

	assert.Nil(t, f.Limiter("/health"), "disabled route is exempt")

	def := f.Limiter("/anything")
	require.NotNil(t, def)
	assert.Equal(t, 2, def.Policy().MaxRequests)
	assert.NotSame(t, login, def)
}

func TestFence_DisabledDefaults(t *testing.T) {
	cfg := &Config{Defaults: PolicyConfig{Enabled: false}}
	require.NoError(t, cfg.SetPolicy("/api/login", PolicyConfig{MaxRequests: 1, WindowSeconds: 60, Enabled: true}))
	f := newTestFence(t, cfg)

	assert.NotNil(t, f.Limiter("/api/login"))
	assert.Nil(t, f.Limiter("/anything"), "unlisted routes are exempt without defaults")

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	d, err := f.AllowRequest(req)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestFence_AllowRequest_PerRoute(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.SetPolicy("/api/login", PolicyConfig{MaxRequests: 1, WindowSeconds: 60, Enabled: true}))
	f := newTestFence(t, cfg, WithKeyExtractor(ExtractIP()))

	login := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	login.RemoteAddr = "192.168.1.1:12345"

	d, err := f.AllowRequest(login)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "/api/login", d.Route)
	assert.Equal(t, "ip:192.168.1.1", d.Key)

	d, err = f.AllowRequest(login)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "login allows one request per window")

	// Same client on another route uses the default limiter
	search := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	search.RemoteAddr = "192.168.1.1:12345"
	d, err = f.AllowRequest(search)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestFence_AllowRequest_DisabledPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Policies["/api/unlimited"] = PolicyConfig{Enabled: false}
	f := newTestFence(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/unlimited", nil)
	req.RemoteAddr = "192.168.1.1:12345"

	for i := 0; i < 200; i++ {
		d, err := f.AllowRequest(req)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should be allowed (rate limiting disabled)", i+1)
	}
}

func TestFence_AllowRequest_KeyExtractionFailed(t *testing.T) {
	f := newTestFence(t, testConfig(), WithKeyExtractor(ExtractHeader("X-API-Key")))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	_, err := f.AllowRequest(req)
	assert.ErrorIs(t, err, ErrKeyExtractionFailed)
}

func TestFence_RouteExtractor(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.SetPolicy("/users", PolicyConfig{MaxRequests: 1, WindowSeconds: 60, Enabled: true}))
	f := newTestFence(t, cfg,
		WithRouteExtractor(func(path string) string {
			if strings.HasPrefix(path, "/users/") {
				return "/users"
			}
			return path
		}),
	)

	first := httptest.NewRequest(http.MethodGet, "/users/1", nil)
	second := httptest.NewRequest(http.MethodGet, "/users/2", nil)

	d, err := f.AllowRequest(first)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = f.AllowRequest(second)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "both paths share the /users limiter")
}

func TestMiddleware_AllowedRequest(t *testing.T) {
	f := newTestFence(t, testConfig())
	handler := f.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "success", rr.Body.String())
	assert.Equal(t, "3", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Reset"))
	assert.Empty(t, rr.Header().Get("Retry-After"))
}

func TestMiddleware_RateLimited(t *testing.T) {
	f := newTestFence(t, testConfig())
	handler := f.Middleware(okHandler())

	// 2 requests + 1 credit
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i+1)
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	retryAfter, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)
	assert.LessOrEqual(t, retryAfter, 60)

	// Another client is unaffected
	other := httptest.NewRequest(http.MethodGet, "/test", nil)
	other.RemoteAddr = "192.168.1.2:12345"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, other)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMiddleware_ExemptRoute(t *testing.T) {
	cfg := testConfig()
	cfg.Policies["/health"] = PolicyConfig{Enabled: false}
	f := newTestFence(t, cfg)
	handler := f.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
}

func TestMiddleware_KeyExtractionError(t *testing.T) {
	f := newTestFence(t, testConfig(), WithKeyExtractor(ExtractHeader("X-API-Key")))
	handler := f.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(&Decision{}))
	assert.Equal(t, 1, RetryAfterSeconds(&Decision{RetryAfter: 300 * time.Millisecond}))
	assert.Equal(t, 3, RetryAfterSeconds(&Decision{RetryAfter: 2500 * time.Millisecond}))
}

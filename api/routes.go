package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/KanavDutta/creditfence/pkg/creditfence"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "creditfence"

// RouterConfig wires the service's handlers. Stats, Metrics and Events are
// optional; their routes are only mounted when set.
type RouterConfig struct {
	Limiter *creditfence.RateLimiter
	Fence   *creditfence.Fence
	Stats   StatsProvider
	Metrics http.Handler
	Events  EventReader
	Version string
	Logger  *slog.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(logger))

	r.Get("/health", healthHandler(cfg.Version))
	r.Post("/check", NewHandler(cfg.Limiter).CheckRateLimit)

	if cfg.Stats != nil {
		r.Method(http.MethodGet, "/stats", NewStatsHandler(cfg.Stats))
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	if cfg.Events != nil {
		r.Method(http.MethodGet, "/events", NewEventsHandler(cfg.Events))
	}

	if cfg.Fence != nil {
		r.Route("/api", func(r chi.Router) {
			r.Use(cfg.Fence.Middleware)
			r.Get("/ping", pingHandler)
		})
	}

	return r
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

func healthHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Service: ServiceName,
			Version: version,
		})
	}
}

func pingHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

// accessLog logs one line per request at debug level, warn for 5xx.
func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelDebug
			if status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

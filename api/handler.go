package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/KanavDutta/creditfence/pkg/creditfence"
)

// MaxBodyBytes caps the size of a /check request body
const MaxBodyBytes = 1 << 20

// Handler handles rate limit check requests
type Handler struct {
	limiter *creditfence.RateLimiter
}

// NewHandler creates a new API handler
func NewHandler(limiter *creditfence.RateLimiter) *Handler {
	return &Handler{limiter: limiter}
}

// CheckRequest represents the incoming rate limit check request
type CheckRequest struct {
	Identity string `json:"identity"` // Required: caller identity (user ID, API key, IP)
}

// CheckResponse represents the rate limit check response
type CheckResponse struct {
	Allowed      bool   `json:"allowed"`                  // Whether request is allowed
	Tier         string `json:"tier"`                     // window_opened, count, credit or denied
	Limit        int    `json:"limit"`                    // Hard count per window
	Count        int    `json:"count"`                    // Hard-count admissions this window
	Credits      int    `json:"credits"`                  // Credits left this window
	MaxCredits   int    `json:"max_credits"`              // Credits each window starts with
	Remaining    int    `json:"remaining"`                // Requests left this window
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"` // Milliseconds until the window ends (if blocked)
	ResetAt      int64  `json:"reset_at"`                 // Unix timestamp when the window ends
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CheckRateLimit handles POST /check requests
func (h *Handler) CheckRateLimit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(w, http.StatusRequestEntityTooLarge, "request_too_large", "Request body too large")
			return
		}
		sendError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	decision, err := h.limiter.Allow(req.Identity)
	if err != nil {
		if errors.Is(err, creditfence.ErrInvalidKey) {
			sendError(w, http.StatusBadRequest, "missing_identity", "identity is required")
			return
		}
		sendError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	response := CheckResponse{
		Allowed:      decision.Allowed,
		Tier:         decision.Tier.String(),
		Limit:        decision.Limit,
		Count:        decision.Count,
		Credits:      decision.Credits,
		MaxCredits:   decision.MaxCredits,
		Remaining:    decision.Remaining,
		RetryAfterMs: decision.RetryAfter.Milliseconds(),
		ResetAt:      decision.ResetAt.Unix(),
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit+decision.MaxCredits))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(response.ResetAt, 10))

	statusCode := http.StatusOK
	if !decision.Allowed {
		statusCode = http.StatusTooManyRequests
		w.Header().Set("Retry-After", strconv.Itoa(creditfence.RetryAfterSeconds(decision)))
	}

	writeJSON(w, statusCode, response)
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}

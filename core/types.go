package core

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidMaxRequests is returned when the hard count is not positive
	ErrInvalidMaxRequests = errors.New("max requests must be positive")

	// ErrInvalidWindow is returned when the window length is not positive
	ErrInvalidWindow = errors.New("window must be positive")

	// ErrInvalidMaxCredits is returned when the credit allowance is negative
	ErrInvalidMaxCredits = errors.New("max credits cannot be negative")
)

// Policy defines the fixed window limiting policy
type Policy struct {
	MaxRequests int           // Hard admissions per window
	Window      time.Duration // Window length
	MaxCredits  int           // Soft overflow admissions per window
}

// Validate checks that the policy can be enforced
func (p Policy) Validate() error {
	if p.MaxRequests <= 0 {
		return ErrInvalidMaxRequests
	}
	if p.Window <= 0 {
		return ErrInvalidWindow
	}
	if p.MaxCredits < 0 {
		return ErrInvalidMaxCredits
	}
	return nil
}

// MaxWindowSeconds is the longest window, in seconds, a time.Duration can hold
const MaxWindowSeconds = math.MaxInt64 / int64(time.Second)

// WindowFromSeconds converts a window length in seconds to a Duration.
// Lengths that are not positive or do not fit in a Duration fail with ErrInvalidWindow.
func WindowFromSeconds(seconds int) (time.Duration, error) {
	if seconds <= 0 {
		return 0, ErrInvalidWindow
	}
	if int64(seconds) > MaxWindowSeconds {
		return 0, fmt.Errorf("%w: %ds exceeds %ds", ErrInvalidWindow, seconds, MaxWindowSeconds)
	}
	return time.Duration(seconds) * time.Second, nil
}

// Cap returns the most requests a single identity can get admitted in one window
func (p Policy) Cap() int {
	return p.MaxRequests + p.MaxCredits
}

// Tier records which rule admitted or denied a request
type Tier int

const (
	TierWindowOpened Tier = iota // First request of a fresh window
	TierCount                    // Admitted under the hard count
	TierCredit                   // Admitted by spending a credit
	TierDenied                   // Count and credits exhausted
)

func (t Tier) String() string {
	switch t {
	case TierWindowOpened:
		return "window_opened"
	case TierCount:
		return "count"
	case TierCredit:
		return "credit"
	case TierDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// CheckResult contains the result of a rate limit check
type CheckResult struct {
	Allowed     bool          // Whether the request is allowed
	Tier        Tier          // Rule that produced the verdict
	Count       int           // Bucket count after the check
	Credits     int           // Credits left after the check
	WindowStart time.Time     // Start of the current window
	WindowEnd   time.Time     // End of the current window (exclusive)
	RetryAfter  time.Duration // Time until the window rolls over (if denied)
}

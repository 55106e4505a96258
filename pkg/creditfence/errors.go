package creditfence

import (
	"errors"

	"github.com/KanavDutta/creditfence/core"
)

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidMaxRequests is returned when max requests is not positive
	ErrInvalidMaxRequests = core.ErrInvalidMaxRequests

	// ErrInvalidWindow is returned when the window length is not positive
	ErrInvalidWindow = core.ErrInvalidWindow

	// ErrInvalidMaxCredits is returned when max credits is negative
	ErrInvalidMaxCredits = core.ErrInvalidMaxCredits

	// ErrInvalidKey is returned when the identity is empty
	ErrInvalidKey = errors.New("rate limit key cannot be empty")

	// ErrKeyExtractionFailed is returned when key extraction from request fails
	ErrKeyExtractionFailed = errors.New("failed to extract key from request")
)

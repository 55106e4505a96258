package creditfence

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// KeyExtractor derives the caller identity from an HTTP request.
// The returned identity is never empty when err is nil.
type KeyExtractor func(*http.Request) (string, error)

// ExtractIP identifies callers by the connection's remote address.
func ExtractIP() KeyExtractor {
	return func(r *http.Request) (string, error) {
		return remoteIP(r)
	}
}

// ExtractIPWithProxy prefers X-Forwarded-For (first hop) and X-Real-IP over
// the remote address. Only use it behind a proxy that sets these headers.
func ExtractIPWithProxy() KeyExtractor {
	return func(r *http.Request) (string, error) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return "ip:" + ip, nil
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return "ip:" + xri, nil
		}
		return remoteIP(r)
	}
}

func remoteIP(r *http.Request) (string, error) {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port
		ip = r.RemoteAddr
	}
	if ip == "" {
		return "", fmt.Errorf("%w: empty IP address", ErrKeyExtractionFailed)
	}
	return "ip:" + ip, nil
}

// ExtractHeader identifies callers by the value of a request header,
// e.g. ExtractHeader("X-API-Key").
func ExtractHeader(name string) KeyExtractor {
	return func(r *http.Request) (string, error) {
		value := r.Header.Get(name)
		if value == "" {
			return "", fmt.Errorf("%w: header %s not found or empty", ErrKeyExtractionFailed, name)
		}
		return "header:" + name + ":" + value, nil
	}
}

// ExtractBearer identifies callers by their "Authorization: Bearer" token.
func ExtractBearer() KeyExtractor {
	return func(r *http.Request) (string, error) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			return "", fmt.Errorf("%w: Authorization header not found", ErrKeyExtractionFailed)
		}
		scheme, token, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return "", fmt.Errorf("%w: invalid Authorization header format", ErrKeyExtractionFailed)
		}
		if token = strings.TrimSpace(token); token == "" {
			return "", fmt.Errorf("%w: empty bearer token", ErrKeyExtractionFailed)
		}
		return "bearer:" + token, nil
	}
}

// ExtractCookie identifies callers by a cookie value, e.g. a session id.
func ExtractCookie(name string) KeyExtractor {
	return func(r *http.Request) (string, error) {
		cookie, err := r.Cookie(name)
		if err != nil {
			return "", fmt.Errorf("%w: cookie %s not found: %v", ErrKeyExtractionFailed, name, err)
		}
		if cookie.Value == "" {
			return "", fmt.Errorf("%w: cookie %s has empty value", ErrKeyExtractionFailed, name)
		}
		return "cookie:" + name + ":" + cookie.Value, nil
	}
}

// ExtractStatic puts every caller into one shared identity (global limit).
func ExtractStatic(key string) KeyExtractor {
	return func(*http.Request) (string, error) {
		if key == "" {
			return "", fmt.Errorf("%w: static key is empty", ErrKeyExtractionFailed)
		}
		return key, nil
	}
}

// ExtractComposite tries extractors in order and returns the first identity
// found, e.g. an API key with the client IP as fallback.
func ExtractComposite(extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) (string, error) {
		var lastErr error
		for _, extract := range extractors {
			key, err := extract(r)
			if err == nil && key != "" {
				return key, nil
			}
			lastErr = err
		}
		if lastErr != nil {
			return "", fmt.Errorf("%w: all extractors failed: %v", ErrKeyExtractionFailed, lastErr)
		}
		return "", fmt.Errorf("%w: no extractors provided", ErrKeyExtractionFailed)
	}
}

// ParseKeyExtractorConfig builds a KeyExtractor from its config string:
//
//	ip                 remote address
//	ip-proxy           X-Forwarded-For / X-Real-IP, then remote address
//	header:X-API-Key   header value
//	bearer             Authorization bearer token
//	cookie:session_id  cookie value
//	static:global      one shared identity
func ParseKeyExtractorConfig(raw string) (KeyExtractor, error) {
	kind, arg, hasArg := strings.Cut(raw, ":")

	needArg := func() error {
		if !hasArg || arg == "" {
			return fmt.Errorf("%w: %s extractor requires format '%s:value'", ErrInvalidConfig, kind, kind)
		}
		return nil
	}

	switch kind {
	case "ip":
		return ExtractIP(), nil
	case "ip-proxy":
		return ExtractIPWithProxy(), nil
	case "bearer":
		return ExtractBearer(), nil
	case "header":
		if err := needArg(); err != nil {
			return nil, err
		}
		return ExtractHeader(arg), nil
	case "cookie":
		if err := needArg(); err != nil {
			return nil, err
		}
		return ExtractCookie(arg), nil
	case "static":
		if err := needArg(); err != nil {
			return nil, err
		}
		return ExtractStatic(arg), nil
	default:
		return nil, fmt.Errorf("%w: unknown key extractor type: %s", ErrInvalidConfig, kind)
	}
}

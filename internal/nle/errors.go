package nle

import (
	"errors"
	"fmt"
)

// Sentinel errors for the NLE API client.
//
// Callers classify failures with errors.Is:
//
//	if errors.Is(err, nle.ErrAuthentication) { ... }
var (
	// ErrAuthentication indicates the API key was rejected (401) or access
	// to the resource was denied (403). Not recoverable by retrying.
	ErrAuthentication = errors.New("nle: authentication failed")

	// ErrRateLimited indicates the vendor returned 429. The request may
	// succeed if retried after the window resets.
	ErrRateLimited = errors.New("nle: rate limit exceeded")

	// ErrConnectivity indicates the request never produced an HTTP
	// response: timeout, DNS failure, connection refused.
	ErrConnectivity = errors.New("nle: connection failed")

	// ErrMalformed indicates the vendor returned a body that could not be
	// decoded as the expected JSON.
	ErrMalformed = errors.New("nle: malformed response")

	// ErrNotFound indicates the requested device or resource does not
	// exist (404).
	ErrNotFound = errors.New("nle: resource not found")
)

// APIError represents a vendor error response not covered by a more
// specific sentinel (HTTP status >= 400).
type APIError struct {
	// StatusCode is the HTTP status the vendor returned.
	StatusCode int

	// Message is the vendor-supplied error string, or "HTTP <code>" when
	// the body carried none.
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("nle: api error (status %d): %s", e.StatusCode, e.Message)
}

// RateLimitError wraps ErrRateLimited with the vendor's retry hint.
type RateLimitError struct {
	// RetryAfter is the number of seconds until the window resets, or 0
	// when the vendor did not say.
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("nle: rate limit exceeded, retry after %ds", e.RetryAfter)
	}
	return "nle: rate limit exceeded"
}

// Unwrap allows errors.Is(err, ErrRateLimited) to match.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

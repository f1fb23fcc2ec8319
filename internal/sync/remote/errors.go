package remote

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error codes produced locally. Remote codes are passed through unchanged.
const (
	CodeNotConfigured = "not_configured"
	CodeNetwork       = "network_error"
	CodeDecode        = "invalid_response"
	CodeRateLimited   = "rate_limited"
)

// DefaultRetryAfter applies when a 429 carries no Retry-After header.
const DefaultRetryAfter = time.Second

// RemoteError is returned by every Client operation that fails.
// Status is 0 when no HTTP response was received.
type RemoteError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("remote %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("remote %d %s: %s", e.Status, e.Code, e.Message)
}

// RateLimited reports the retry delay for 429 responses.
func (e *RemoteError) RateLimited() (time.Duration, bool) {
	if e.Status != http.StatusTooManyRequests {
		return 0, false
	}
	if e.RetryAfter <= 0 {
		return DefaultRetryAfter, true
	}
	return e.RetryAfter, true
}

// Transient reports failures worth retrying: network errors, 429 and 5xx.
func (e *RemoteError) Transient() bool {
	if e.Code == CodeNotConfigured {
		return false
	}
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Permanent reports failures that will not succeed unchanged.
func (e *RemoteError) Permanent() bool {
	return !e.Transient()
}

// IsNotConfigured reports whether err stems from a missing token or database ID.
func IsNotConfigured(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == CodeNotConfigured
}

// IsNotFound reports whether the remote answered 404.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}

func notConfigured(what string) *RemoteError {
	return &RemoteError{Code: CodeNotConfigured, Message: what + " is not configured"}
}

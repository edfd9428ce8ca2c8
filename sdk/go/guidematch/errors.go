// Package guidematch provides a Go client for the guidematch trip planning API.
package guidematch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error is a non-2xx reply from the API. Code is the server's error code:
// an error kind such as "database_error" for orchestration failures, or a
// transport code such as "UNAUTHORIZED".
type Error struct {
	StatusCode int
	Code       string
	Message    string
	// Details carries the failed outcome when the server returned one, so
	// a generated guide can still be recovered with Outcome.
	Details json.RawMessage
	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("guidematch: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Outcome decodes the failed trip outcome attached to the error, if any.
func (e *Error) Outcome() (*TripOutcome, bool) {
	if len(e.Details) == 0 {
		return nil, false
	}
	var out TripOutcome
	if err := json.Unmarshal(e.Details, &out); err != nil || out.Status == "" {
		return nil, false
	}
	return &out, true
}

func statusIs(err error, code int) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == code
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool { return statusIs(err, http.StatusNotFound) }

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool { return statusIs(err, http.StatusUnauthorized) }

// IsForbidden returns true if the error is a 403.
func IsForbidden(err error) bool { return statusIs(err, http.StatusForbidden) }

// IsRateLimited returns true if the error is a 429, whether from the
// server's own limiter or an upstream quota.
func IsRateLimited(err error) bool { return statusIs(err, http.StatusTooManyRequests) }

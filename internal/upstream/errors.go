package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// StatusError is an upstream failure that carries the HTTP status the
// upstream answered with, plus an optional retry-after hint parsed from 429
// bodies.
type StatusError struct {
	Code       int
	Msg        string
	RetryAfter *time.Duration
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("upstream status %d", e.Code)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Msg)
}

// StatusOf extracts the upstream status from err, or 0.
func StatusOf(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code
	}
	return 0
}

// IsTransient reports whether the status is one the orchestrator retries
// with a fresh credential.
func IsTransient(err error, retryStatusCodes []int) bool {
	code := StatusOf(err)
	if code == 0 {
		return false
	}
	for _, retryable := range retryStatusCodes {
		if code == retryable {
			return true
		}
	}
	return false
}

// IsAuthFailure reports whether the upstream rejected the credential itself.
func IsAuthFailure(err error) bool {
	code := StatusOf(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

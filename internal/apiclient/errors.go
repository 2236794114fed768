package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a backend rejection with the HTTP status preserved so callers can
// branch on the failure class without string matching.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend error %d", e.Status)
	}
	return fmt.Sprintf("backend error %d: %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is a 401 rejection.
func IsUnauthorized(err error) bool { return statusIs(err, http.StatusUnauthorized) }

// IsForbidden reports whether err is a 403 rejection.
func IsForbidden(err error) bool { return statusIs(err, http.StatusForbidden) }

// IsNotFound reports whether err is a 404 rejection.
func IsNotFound(err error) bool { return statusIs(err, http.StatusNotFound) }

// IsServerError reports whether err is a 5xx rejection.
func IsServerError(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status >= 500
}

// IsValidation reports whether err is a 400 rejection carrying a
// backend-provided message (duplicate roll number and the like).
func IsValidation(err error) bool { return statusIs(err, http.StatusBadRequest) }

// UserMessage returns the backend-provided message when present, else fallback.
func UserMessage(err error, fallback string) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

func statusIs(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == status
}

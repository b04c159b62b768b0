package api

import (
	"errors"
	"fmt"
)

// AuthError indicates that the backend rejected the bearer credential.
// It is returned when a 401 response is received and is never retried.
type AuthError struct {
	Path    string
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("auth error on %s: session expired", e.Path)
	}
	return fmt.Sprintf("auth error on %s: %s", e.Path, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// HTTPError is a non-2xx response other than 401.
type HTTPError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d on %s %s: %s", e.StatusCode, e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("http %d on %s %s", e.StatusCode, e.Method, e.Path)
}

// MalformedResponseError is a 2xx response whose body cannot be trusted as
// the server's state, such as a listing with success=false or without the
// notifications field.
type MalformedResponseError struct {
	Path    string
	Message string
}

func (e *MalformedResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("malformed response on %s", e.Path)
	}
	return fmt.Sprintf("malformed response on %s: %s", e.Path, e.Message)
}

// IsMalformed reports whether err is a MalformedResponseError.
func IsMalformed(err error) bool {
	var malformed *MalformedResponseError
	return errors.As(err, &malformed)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	if IsAuthError(err) {
		return 401
	}
	return 0
}

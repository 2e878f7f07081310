package api

import (
	"errors"
	"fmt"
)

// ErrNoSession is returned when a call is attempted without a session token,
// including after a 401 invalidated the session.
var ErrNoSession = errors.New("no active session")

// Error represents an HTTP error response from the backend.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d", e.StatusCode)
}

// NetworkError represents a network-level failure (connection refused,
// timeout, DNS). The backend may never have seen the request.
type NetworkError struct {
	Err     error
	URL     string
	Attempt int
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

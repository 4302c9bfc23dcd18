// Package errs holds the error taxonomy shared by the API client, the
// target validator and the manager.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ValidationError reports a candidate target URL that failed the pre-flight
// check. It is user-correctable and never retried.
type ValidationError struct {
	URL string
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid target %s: %v", e.URL, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// RemoteError is the structured rejection returned by the remote service:
// the verbatim error list plus the HTTP status.
type RemoteError struct {
	Errors     []string
	StatusCode int
}

func (e *RemoteError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}

	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, strings.Join(e.Errors, "; "))
}

// CreationError is a remote rejection of a create call.
type CreationError struct {
	RemoteError
}

func (e *CreationError) Error() string {
	return "create failed: " + e.RemoteError.Error()
}

// UpdateError is a remote rejection of an update call.
type UpdateError struct {
	RemoteError
}

func (e *UpdateError) Error() string {
	return "update failed: " + e.RemoteError.Error()
}

// NetworkError is a timeout or transport failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: connection error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a timeout.
func (e *NetworkError) Timeout() bool { return IsTimeout(e.Err) }

// RequestError covers malformed URLs, unparsable responses and unclassified
// transport exceptions.
type RequestError struct {
	Message string
	URL     string
	Err     error
}

func (e *RequestError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.URL != "" {
		return fmt.Sprintf("%s: %s", msg, e.URL)
	}

	return msg
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a deadline or net timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed backend call.
type Kind int

const (
	// Transient failures (timeouts, refused connections, 5xx, 408, 429, open breaker) are retried by draining.
	Transient Kind = iota
	// Rejected means the backend deterministically refused the request (4xx other than 408/429).
	Rejected
)

func (k Kind) String() string {
	if k == Rejected {
		return "rejected"
	}
	return "transient"
}

// Error is the only failure shape returned by Client implementations.
type Error struct {
	Op         string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s failure (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a backend rejection that retrying cannot fix.
func IsPermanent(err error) bool {
	var tErr *Error
	return errors.As(err, &tErr) && tErr.Kind == Rejected
}

// classifyStatus maps a non-2xx status code to a failure kind.
func classifyStatus(code int) Kind {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return Transient
	case code >= 400 && code < 500:
		return Rejected
	default:
		return Transient
	}
}

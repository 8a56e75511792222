package marketplace

import (
	"errors"
	"fmt"
)

// ErrNoCredential is matched by every NoCredentialError
var ErrNoCredential = errors.New("no marketplace credential")

// ErrCircuitOpen is returned when the circuit breaker rejects a call
var ErrCircuitOpen = errors.New("marketplace circuit open")

// RemoteError is a non-2xx response, or a transport failure (Status 0) that exhausted retries
type RemoteError struct {
	Method string
	Path   string
	Status int
	Body   string
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Status == 0 && e.Err != nil {
		return fmt.Sprintf("marketplace %s %s: %v", e.Method, e.Path, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("marketplace %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
	}
	return fmt.Sprintf("marketplace %s %s: status %d", e.Method, e.Path, e.Status)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure was a rate limit, a server fault, or a transport error
func (e *RemoteError) Transient() bool {
	return e.Status == 0 || Retryable(e.Status)
}

// MalformedResponseError means a 2xx response carried a body that could not be decoded
type MalformedResponseError struct {
	Path   string
	Status int
	Err    error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("marketplace %s: malformed response (status %d): %v", e.Path, e.Status, e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// NoCredentialError means no usable access token could be resolved.
// Err holds the refresh failure when one was attempted.
type NoCredentialError struct {
	Reason string
	Err    error
}

func (e *NoCredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no marketplace credential: %s: %v", e.Reason, e.Err)
	}
	return "no marketplace credential: " + e.Reason
}

func (e *NoCredentialError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrNoCredential) match
func (e *NoCredentialError) Is(target error) bool {
	return target == ErrNoCredential
}

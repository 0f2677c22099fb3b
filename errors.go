package idapi

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrTransportClosed is returned when a request is attempted on a closed transport.
	ErrTransportClosed = errors.New("idapi: transport closed")

	// ErrCircuitOpen is returned when the circuit breaker rejects a dispatch.
	ErrCircuitOpen = errors.New("idapi: circuit open")
)

// TransportErrorKind categorizes transport-level failures. The retry
// classification tables match against these kinds.
type TransportErrorKind string

const (
	TransportConnection TransportErrorKind = "connection"
	TransportTimeout    TransportErrorKind = "timeout"
	TransportClosed     TransportErrorKind = "closed"
	TransportOther      TransportErrorKind = "other"
)

// TransportError reports a failure to complete an HTTP exchange at the
// transport layer (no RawResponse was produced for the attempt).
type TransportError struct {
	Kind    TransportErrorKind
	Message string
	Cause   error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("transport error (%s): %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("transport error (%s): %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares transport errors by kind for errors.Is.
func (e *TransportError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*TransportError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// AuthErrorKind categorizes credential lifecycle failures.
type AuthErrorKind string

const (
	AuthExpiredNoRefresh   AuthErrorKind = "expired_no_refresh"
	AuthRefreshFailed      AuthErrorKind = "refresh_failed"
	AuthInvalidCredentials AuthErrorKind = "invalid_credentials"
)

// AuthError reports a credential that could not be made valid. Auth errors
// terminate a call immediately: they are never subject to HTTP retry,
// which guards against indefinite token-refresh loops.
type AuthError struct {
	Kind    AuthErrorKind
	Message string
	Cause   error
}

func (e *AuthError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("auth error (%s): %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("auth error (%s): %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares auth errors by kind for errors.Is.
func (e *AuthError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*AuthError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// StatusError reports a terminal non-retryable HTTP status outcome that no
// error interceptor recovered. Response carries the decoded body so callers
// can still inspect server-provided detail.
type StatusError struct {
	StatusCode int
	Response   *Response
}

func (e *StatusError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("http status error: %d", e.StatusCode)
}

// Is compares status errors by status code for errors.Is.
func (e *StatusError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*StatusError); ok {
		return e.StatusCode == t.StatusCode
	}
	return false
}

// AbortError is produced when a request interceptor aborts the call before
// the transport is reached. Remaining request interceptors are skipped.
type AbortError struct {
	Message string
	Cause   error
}

func (e *AbortError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("request aborted: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("request aborted: %s", e.Message)
}

// Unwrap returns the underlying cause.
func (e *AbortError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// CallTimeoutError reports that the overall call deadline expired. It is
// distinct from a per-attempt transport timeout: it aborts the whole call
// including any pending retry wait.
type CallTimeoutError struct {
	Elapsed time.Duration
	Cause   error
}

func (e *CallTimeoutError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("call timed out after %v", e.Elapsed)
}

// Unwrap returns the underlying cause.
func (e *CallTimeoutError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether an error represents a transient failure that
// might succeed on retry under the default classification tables. Returns
// true for connection and timeout transport errors and for 429/5xx status
// errors; false for auth errors, aborts and other client errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind == TransportConnection || te.Kind == TransportTimeout
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == 429 || se.StatusCode >= 500
	}

	return false
}

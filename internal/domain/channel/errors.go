package channel

import (
	"errors"
	"fmt"
	"time"
)

// Configuration errors surface to the operator and are never retried
var (
	ErrDriverNotRegistered = errors.New("channel: driver not registered")
	ErrDriverIncomplete    = errors.New("channel: driver does not satisfy required capability")
	ErrChannelInactive     = errors.New("channel: channel is not active")
	ErrInvalidConfig       = errors.New("channel: invalid channel configuration")
)

// TransientError is a retryable delivery failure: timeouts, connection
// errors, 5xx and 429 responses. The worker retries it with backoff.
type TransientError struct {
	Err error
	// RetryAfter is the channel-dictated minimum delay before the next
	// attempt (e.g. from a Retry-After header); zero when unspecified
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *TransientError) Error() string {
	return fmt.Sprintf("channel: transient failure: %v", e.Err)
}

// Unwrap returns the underlying error
func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as retryable
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// ValidationError is a terminal delivery failure: the destination rejected
// the payload as structurally wrong (4xx). Retrying unchanged data cannot
// succeed, so the worker routes it straight to the dead-letter path.
type ValidationError struct {
	StatusCode int
	Message    string
	// PayloadDump preserves the rejected payload for operator inspection
	PayloadDump []byte
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("channel: validation failure (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsTransient reports whether the error is a retryable delivery failure
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// AsTransient extracts a TransientError if the error is one
func AsTransient(err error) (*TransientError, bool) {
	var te *TransientError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// AsValidation extracts a ValidationError if the error is one
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

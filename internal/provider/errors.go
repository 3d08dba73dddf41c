package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// TransientError marks a synthesis failure that is worth retrying, such as
// rate limiting or an upstream outage.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError marks a synthesis failure that retrying cannot fix, such as
// a rejected voice or malformed request.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent provider error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsRetryable reports whether a synthesis attempt should be retried.
// Explicitly permanent failures and caller cancellation are final; a
// per-attempt deadline and anything not classified (network flakes,
// connection resets) are retried.
func IsRetryable(err error) bool {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// classifyStatus maps an upstream HTTP status to the retry taxonomy.
func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return Transient(err)
	default:
		return Permanent(err)
	}
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CircuitOpenError is returned when a call is rejected locally because the
// source's breaker is open. It is a policy decision, not a dependency fault.
type CircuitOpenError struct {
	Source     string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry after %dms", e.Source, e.RetryAfter.Milliseconds())
}

// IsCircuitOpen reports whether err is (or wraps) a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying (validation, 4xx, malformed payloads).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

type localRejection struct {
	err error
}

func (e *localRejection) Error() string { return e.err.Error() }
func (e *localRejection) Unwrap() error { return e.err }

// LocalRejection marks err as refused on this side before any call went out,
// e.g. an exhausted rate limit. Breakers ignore it and it is not retried.
func LocalRejection(err error) error {
	if err == nil {
		return nil
	}
	return &localRejection{err: err}
}

// IsLocalRejection reports whether err was refused locally. Circuit-open
// rejections count as local.
func IsLocalRejection(err error) bool {
	var lr *localRejection
	return errors.As(err, &lr) || IsCircuitOpen(err)
}

// DefaultRetryable retries everything except local rejections, permanent
// errors and caller cancellation.
func DefaultRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case IsLocalRejection(err), IsPermanent(err):
		return false
	case errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

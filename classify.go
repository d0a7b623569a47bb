package orchestra

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// ErrorKind classifies a capability failure for the retry loop.
type ErrorKind string

const (
	KindUnknown      ErrorKind = "unknown"
	KindTimeout      ErrorKind = "timeout"
	KindUnavailable  ErrorKind = "unavailable"
	KindRateLimited  ErrorKind = "rate_limited"
	KindTransient    ErrorKind = "transient"
	KindInvalidInput ErrorKind = "invalid_input"
	KindUnauthorized ErrorKind = "unauthorized"
	KindCancelled    ErrorKind = "cancelled"
	KindCircuitOpen  ErrorKind = "circuit_open"
	KindTemplate     ErrorKind = "template"
)

// Retryable reports whether a failure of this kind may succeed on retry.
// Unclassified errors are retried.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTimeout, KindUnavailable, KindRateLimited, KindTransient, KindUnknown:
		return true
	default:
		return false
	}
}

// KindError marks an error with an explicit kind. Capabilities return one
// through the constructors below to steer retry behaviour.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *KindError) Unwrap() error { return e.Err }

// Unavailable marks err as a retryable "capability unavailable" signal.
func Unavailable(err error) error { return &KindError{Kind: KindUnavailable, Err: err} }

// RateLimited marks err as a retryable rate-limit signal.
func RateLimited(err error) error { return &KindError{Kind: KindRateLimited, Err: err} }

// Transient marks err as a retryable transient failure.
func Transient(err error) error { return &KindError{Kind: KindTransient, Err: err} }

// Timeout marks err as a retryable timeout.
func Timeout(err error) error { return &KindError{Kind: KindTimeout, Err: err} }

// InvalidInput marks err as a terminal input-validation failure.
func InvalidInput(err error) error { return &KindError{Kind: KindInvalidInput, Err: err} }

// Unauthorized marks err as a terminal authorization failure.
func Unauthorized(err error) error { return &KindError{Kind: KindUnauthorized, Err: err} }

// Classify returns the kind of err. Explicit marks win over inferred
// kinds; context and network errors are recognised structurally.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrTemplateResolution):
		return KindTemplate
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return KindUnavailable
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout
		}
		return KindTransient
	}

	return KindUnknown
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	return err != nil && Classify(err).Retryable()
}

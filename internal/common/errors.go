package common

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the closed taxonomy every external failure is translated into
// before it reaches the dispatcher or the ledger.
type ErrorKind string

const (
	KindValidation    ErrorKind = "VALIDATION"    // bad/missing input, non-retryable
	KindAuthorization ErrorKind = "AUTHORIZATION" // expired/invalid credentials, non-retryable
	KindNotFound      ErrorKind = "NOT_FOUND"     // missing external resource, non-retryable
	KindRateLimit     ErrorKind = "RATE_LIMIT"    // retryable, may carry a retry-after hint
	KindNetwork       ErrorKind = "NETWORK"       // transient, retryable
	KindUnknown       ErrorKind = "UNKNOWN"       // catch-all, retryable up to the bound
)

// SyncError represents pipeline and adapter errors with a classified kind.
type SyncError struct {
	Kind       ErrorKind
	Message    string
	Cause      error
	RetryAfter time.Duration // only set for KindRateLimit, zero otherwise
}

func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure should be re-driven by the scheduler.
func (e *SyncError) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindNetwork, KindUnknown:
		return true
	case KindValidation, KindAuthorization, KindNotFound:
		return false
	}
	return false
}

// Error constructors
func ValidationError(message string, cause error) *SyncError {
	return &SyncError{Kind: KindValidation, Message: message, Cause: cause}
}

func AuthorizationError(message string, cause error) *SyncError {
	return &SyncError{Kind: KindAuthorization, Message: message, Cause: cause}
}

func NotFoundError(message string, cause error) *SyncError {
	return &SyncError{Kind: KindNotFound, Message: message, Cause: cause}
}

func RateLimitError(message string, retryAfter time.Duration) *SyncError {
	return &SyncError{Kind: KindRateLimit, Message: message, RetryAfter: retryAfter}
}

func NetworkError(message string, cause error) *SyncError {
	return &SyncError{Kind: KindNetwork, Message: message, Cause: cause}
}

func UnknownError(message string, cause error) *SyncError {
	return &SyncError{Kind: KindUnknown, Message: message, Cause: cause}
}

// KindOf classifies an arbitrary error. Non-SyncError values are UNKNOWN.
func KindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// Retryable classifies an arbitrary error. Unclassified errors are treated
// as retryable up to the retry bound.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// RetryAfterOf extracts the server-specified backoff, if any.
func RetryAfterOf(err error) time.Duration {
	var se *SyncError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

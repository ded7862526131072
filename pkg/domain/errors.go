package domain

import (
	"errors"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Error taxonomy
//
// Providers and the registry surface these typed errors; the webhook router
// and the outward-facing service translate them to protocol responses, and
// the dispatch queue uses Retryable to decide whether an attempt is repeated.
// ---------------------------------------------------------------------------

// ValidationError marks user-fixable bad input (credentials, names, targets).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NotFoundError marks an unknown platform, connection, or message.
type NotFoundError struct {
	Resource string
	ID       string
	Platform Platform
}

func (e *NotFoundError) Error() string {
	if e.Platform != "" {
		return fmt.Sprintf("%s %q not found on platform %s", e.Resource, e.ID, e.Platform)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// AuthError marks a remote platform rejecting credentials or a signature.
// Never retryable.
type AuthError struct {
	Platform Platform
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %s", e.Platform, e.Reason)
}

// UnsupportedOperationError marks a capability a platform does not implement.
// Never retryable.
type UnsupportedOperationError struct {
	Platform  Platform
	Operation string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("platform %s does not support %s", e.Platform, e.Operation)
}

// UnsupportedPlatformError marks a platform identifier with no registered
// validator or provider. This is a configuration error, not user input.
type UnsupportedPlatformError struct {
	Platform string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("no handler registered for platform %q", e.Platform)
}

// ActivationError marks a failed provider activation (credentials rejected by
// the remote platform, or live state could not be established).
type ActivationError struct {
	Platform Platform
	Err      error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("%s activation failed: %v", e.Platform, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

// RateLimitedError marks a remote rate limit. Retryable with backoff.
type RateLimitedError struct {
	Platform   Platform
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited, retry after %s", e.Platform, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limited", e.Platform)
}

// TransientError marks a temporary remote failure (timeouts, 5xx). Retryable.
type TransientError struct {
	Platform Platform
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s transient failure: %v", e.Platform, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a non-retryable remote failure, e.g. a permanently
// invalid target.
type PermanentError struct {
	Platform Platform
	Reason   string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s permanent failure: %s", e.Platform, e.Reason)
}

// ---------------------------------------------------------------------------

// Retryable reports whether the dispatch queue may retry after this error.
func Retryable(err error) bool {
	var rate *RateLimitedError
	var transient *TransientError
	return errors.As(err, &rate) || errors.As(err, &transient)
}

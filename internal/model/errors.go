package model

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy shared by the store adapters and the core components.
// Callers match with errors.Is; adapters wrap with fmt.Errorf("op: %w", err).
var (
	ErrNotFound           = errors.New("not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrAlreadyExists      = errors.New("already exists")
	ErrAlreadyMember      = fmt.Errorf("%w: already a member", ErrAlreadyExists)
	ErrInvalidState       = errors.New("invalid state")
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrTransient          = errors.New("transient failure")
	ErrFatal              = errors.New("retries exhausted")
)

type transientError struct {
	err error
}

func (e *transientError) Error() string   { return e.err.Error() }
func (e *transientError) Unwrap() []error { return []error{e.err, ErrTransient} }

// Transient marks err as retryable while keeping it matchable by errors.Is.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) {
		return err
	}
	return &transientError{err: err}
}

// IsRetryable reports whether a failed backend call may succeed if repeated.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrNetworkUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

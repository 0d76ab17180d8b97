// Package errorbehavior attaches behaviours to errors that cross package
// boundaries: whether an operation may be retried, and whether a failure
// came from cancellation rather than from the operation itself.
package errorbehavior

import (
	"context"
	"errors"
)

type retryBehavior interface {
	Retryable() bool
}

// IsRetryable returns the retryability of an error.
// Errors without an attached behaviour are not retryable.
func IsRetryable(err error) bool {
	var b retryBehavior
	if errors.As(err, &b) {
		return b.Retryable()
	}
	return false
}

// IsCancelled reports whether err was caused by a cancelled context.
// Cancelled operations are never reported to the user.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

type marked struct {
	err       error
	retryable bool
}

func (m *marked) Error() string {
	return m.err.Error()
}

func (m *marked) Unwrap() error {
	return m.err
}

func (m *marked) Retryable() bool {
	return m.retryable
}

// WrapRetryable marks an error as retryable.
func WrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, retryable: true}
}

// WrapNonRetryable marks an error as non-retryable. The outermost mark wins,
// so this can be used to stop retries of an error marked retryable deeper
// in the chain.
func WrapNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, retryable: false}
}

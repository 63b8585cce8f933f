// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

package eventbus

import "errors"

// ErrConnectExhausted is returned when the bounded startup connection
// loop runs out of attempts without reaching the broker.
var ErrConnectExhausted = errors.New("broker connection attempts exhausted")

// ErrPublisherClosed is returned when publishing through a closed
// publisher.
var ErrPublisherClosed = errors.New("publisher is closed")

// ErrInvalidConfig is returned when configuration is invalid.
var ErrInvalidConfig = errors.New("invalid configuration")

// RetryableError marks a handler failure as transient. The dispatcher
// nacks the message so JetStream redelivers it.
type RetryableError struct {
	Message string
	Cause   error
}

// NewRetryableError creates a retryable error.
func NewRetryableError(message string, cause error) *RetryableError {
	return &RetryableError{Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *RetryableError) Unwrap() error { return e.Cause }

// PermanentError marks a handler failure as unrecoverable, such as a
// payload that does not parse. The dispatcher applies the configured
// failure policy instead of redelivering.
type PermanentError struct {
	Message string
	Cause   error
}

// NewPermanentError creates a permanent error.
func NewPermanentError(message string, cause error) *PermanentError {
	return &PermanentError{Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *PermanentError) Unwrap() error { return e.Cause }

// IsRetryable reports whether the error should lead to redelivery.
// Unclassified errors are treated as retryable so a transient fault
// never silently discards an event.
func IsRetryable(err error) bool {
	var perm *PermanentError
	return !errors.As(err, &perm)
}

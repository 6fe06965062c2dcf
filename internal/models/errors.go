package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a terminal session error.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindFormat     ErrorKind = "format"
	KindNetwork    ErrorKind = "network"
	KindValidation ErrorKind = "validation"
	KindCancelled  ErrorKind = "cancelled"
	KindInternal   ErrorKind = "internal"
)

// FormatError reports a malformed embedding payload.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "invalid embedding payload: " + e.Reason
}

// Formatf returns a FormatError with a formatted reason.
func Formatf(format string, args ...interface{}) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}

// NetworkError reports a transport failure or non-success response from the remote service.
type NetworkError struct {
	Op         string
	StatusCode int // zero for transport failures
	Body       string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError reports input that cannot produce a classification.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Invalidf returns a ValidationError with a formatted reason.
func Invalidf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// CancellationError reports a run stopped by cooperative cancellation.
type CancellationError struct {
	Err error
}

func (e *CancellationError) Error() string {
	return "session cancelled"
}

func (e *CancellationError) Unwrap() error { return e.Err }

// Cancellation wraps the context error as a CancellationError.
func Cancellation(ctx context.Context) error {
	return &CancellationError{Err: ctx.Err()}
}

// KindOf returns the taxonomy kind of err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		fe *FormatError
		ne *NetworkError
		ve *ValidationError
		ce *CancellationError
	)
	switch {
	case errors.As(err, &ce):
		return KindCancelled
	case errors.As(err, &fe):
		return KindFormat
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ne):
		return KindNetwork
	default:
		return KindInternal
	}
}

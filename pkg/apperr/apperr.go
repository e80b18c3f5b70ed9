// Package apperr defines the error kinds shared by the pipeline components.
// Callers branch on kinds with errors.Is instead of matching messages.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrTransient      = errors.New("transient failure")
	ErrPartialFailure = errors.New("partial failure")
	ErrDeadLettered   = errors.New("dead-lettered")
)

// Error attaches a kind and the failing operation to an underlying cause.
type Error struct {
	Kind error
	Op   string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Key != "" {
		msg += fmt.Sprintf(" (key %q)", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds an Error of the given kind.
func New(kind error, op, key string, err error) error {
	return &Error{Kind: kind, Op: op, Key: key, Err: err}
}

// Validation reports a caller mistake that must never be retried.
func Validation(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// NotFound reports an absent object.
func NotFound(op, key string, err error) error {
	return &Error{Kind: ErrNotFound, Op: op, Key: key, Err: err}
}

// Transient classifies a backend I/O failure. Context cancellation and
// deadline errors are returned unchanged so they are never retried.
func Transient(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &Error{Kind: ErrTransient, Op: op, Key: key, Err: err}
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsTransient(err error) bool  { return errors.Is(err, ErrTransient) }

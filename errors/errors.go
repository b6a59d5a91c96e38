// Package errors annotates failures with the step that produced them and
// classifies them for a migration job:
//
//   - [ValidationError] rejects input before any connection is attempted;
//   - [ConnectionError] is fatal to the job that hit it;
//   - [CollectionMigrationError] fails one collection and the job goes on.
//
// The stdlib helpers are re-exported so callers import a single package.
package errors

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned by collection operations a backend does not implement.
var ErrUnsupported = errors.ErrUnsupported

// wrappedError prefixes the message of cause with the failed step.
type wrappedError struct {
	cause error
	msg   string
}

func (w *wrappedError) Error() string {
	return w.msg + ": " + w.cause.Error()
}

func (w *wrappedError) Unwrap() error {
	return w.cause
}

// New calls [errors.New].
//
//go:inline
func New(text string) error {
	return errors.New(text) //nolint:err113
}

// Errorf calls [fmt.Errorf].
//
//go:inline
func Errorf(format string, vals ...any) error {
	return fmt.Errorf(format, vals...) //nolint:err113
}

// Wrap annotates cause with text. It returns nil if cause is nil.
func Wrap(cause error, text string) error {
	if cause == nil {
		return nil
	}

	if text == "" {
		return cause
	}

	return &wrappedError{cause: cause, msg: text}
}

// Wrapf annotates cause with a formatted message. It returns nil if cause is nil.
func Wrapf(cause error, format string, vals ...any) error {
	if cause == nil {
		return nil
	}

	return Wrap(cause, fmt.Sprintf(format, vals...))
}

// Unwrap calls [errors.Unwrap].
//
//go:inline
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// Join calls [errors.Join].
//
//go:inline
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Is calls [errors.Is].
//
//go:inline
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As calls [errors.As].
//
//go:inline
func As(err error, target any) bool {
	return errors.As(err, target)
}

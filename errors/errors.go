// Package errors defines the error kinds reported by the cache library.
// Every failure surfaced to a caller is one of the sentinel values below,
// optionally annotated with a message or a wrapped cause. Callers classify
// failures with [errors.Is] from the standard library.
package errors

import "fmt"

// Error is a sentinel error kind. The string value doubles as the default
// message.
type Error string

const ErrOpenFailed = Error("Failed to open underlying file")
const ErrInvalidHandle = Error("Unknown file handle")
const ErrInvalidArgument = Error("Invalid argument")
const ErrAllocationFailed = Error("Aligned buffer allocation failed")
const ErrIOFailed = Error("Input/output error")
const ErrEvictionExhausted = Error("No evictable slot in cache")
const ErrNotSupported = Error("Operation not supported")

func (e Error) Error() string {
	return string(e)
}

// WithMessage returns an error that annotates the sentinel with extra detail.
// The result matches the sentinel under [errors.Is].
func (e Error) WithMessage(message string) error {
	return wrappedError{
		message: fmt.Sprintf("%s: %s", string(e), message),
		parents: []error{e},
	}
}

// Wrap returns an error that records `cause` underneath the sentinel. The
// result matches both the sentinel and the cause under [errors.Is].
func (e Error) Wrap(cause error) error {
	return wrappedError{
		message: fmt.Sprintf("%s: %s", string(e), cause.Error()),
		parents: []error{e, cause},
	}
}

type wrappedError struct {
	message string
	parents []error
}

func (e wrappedError) Error() string {
	return e.message
}

func (e wrappedError) Unwrap() []error {
	return e.parents
}

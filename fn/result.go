package fn

import "errors"

// ErrNilResultError is substituted when Err is called with a nil error.
var ErrNilResultError = errors.New("fn: Err called with nil error")

// Result represents the outcome of a fallible computation: either a value of
// type T or an error. It is the payload carried by single-use reply channels,
// so that a processor can answer a request with exactly one message whatever
// the outcome.
type Result[T any] struct {
	val T
	err error
}

// Ok creates a successful Result holding the given value.
func Ok[T any](val T) Result[T] {
	return Result[T]{val: val}
}

// Err creates a failed Result holding the given error. A nil error is
// replaced by ErrNilResultError so that an Err result is never mistaken for
// success.
func Err[T any](err error) Result[T] {
	if err == nil {
		err = ErrNilResultError
	}

	return Result[T]{err: err}
}

// NewResult builds a Result from a customary (value, error) pair.
func NewResult[T any](val T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}

	return Ok(val)
}

// IsOk returns true if the result holds a value.
func (r Result[T]) IsOk() bool {
	return r.err == nil
}

// IsErr returns true if the result holds an error.
func (r Result[T]) IsErr() bool {
	return r.err != nil
}

// Unpack ejects the result into the multiple return values that are
// customary in go idiom.
func (r Result[T]) Unpack() (T, error) {
	return r.val, r.err
}

// Err returns the error held by the result, or nil on success.
func (r Result[T]) Err() error {
	return r.err
}

package repository

// OpError is the failure side of a Result: a user-facing message and the underlying cause.
type OpError struct {
	Message string
	Cause   error
}

func (e *OpError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *OpError) Unwrap() error { return e.Cause }

// Result is either Success(value) or Failure(message, cause). The zero value is a
// successful zero T.
type Result[T any] struct {
	value T
	err   *OpError
}

// Success wraps a value.
func Success[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Failure wraps an error with a message.
func Failure[T any](message string, cause error) Result[T] {
	return Result[T]{err: &OpError{Message: message, Cause: cause}}
}

// OK reports whether the operation succeeded.
func (r Result[T]) OK() bool { return r.err == nil }

// Value returns the wrapped value; zero on failure.
func (r Result[T]) Value() T { return r.value }

// Err returns the failure or nil.
func (r Result[T]) Err() *OpError { return r.err }

// Get unpacks the result into Go's usual (value, error) pair.
func (r Result[T]) Get() (T, error) {
	if r.err != nil {
		var zero T
		return zero, r.err
	}
	return r.value, nil
}

package apiclient

import "net/http"

// Result is the outcome of a request: a value (possibly empty) or an
// error, never both.
//
// Results of deduplicated reads are shared between callers. Header and
// Payload bytes must be treated as read-only.
type Result[T any] struct {
	Value  T
	Empty  bool // the response carried no body
	Status int
	Header http.Header
	Err    *Error
}

// OK reports whether the request succeeded.
func (r Result[T]) OK() bool { return r.Err == nil }

// Unwrap returns the value, or the error as a plain error value.
func (r Result[T]) Unwrap() (T, error) {
	if r.Err != nil {
		var zero T
		return zero, r.Err
	}
	return r.Value, nil
}

// Payload is an undecoded response body.
type Payload struct {
	ContentType string
	Body        []byte
}

func failure[T any](kind ErrorKind, status int, err error) Result[T] {
	return Result[T]{Status: status, Err: newError(kind, status, err)}
}

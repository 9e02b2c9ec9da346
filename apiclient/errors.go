package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. *Error values match the sentinel of their kind with
// errors.Is.
var (
	ErrNetwork         = errors.New("apiclient: no response received")
	ErrUnauthenticated = errors.New("apiclient: unauthenticated")
	ErrHTTP            = errors.New("apiclient: error status")
	ErrParse           = errors.New("apiclient: response body did not match expected shape")

	// ErrInvalidDescriptor reports a malformed request descriptor. It is a
	// programming error, not a runtime failure.
	ErrInvalidDescriptor = errors.New("apiclient: invalid request descriptor")

	ErrResponseTooLarge = errors.New("apiclient: response body exceeds limit")
	ErrNoTransport      = errors.New("apiclient: transport is nil")
	ErrNoCredential     = errors.New("apiclient: no credential available")
)

// ErrorKind classifies a failed request.
type ErrorKind int

const (
	// KindNetwork means no response was received. Status is 0.
	KindNetwork ErrorKind = iota + 1
	// KindUnauthenticated means authorization failed after the refresh
	// protocol ran, or no credential was available. Status is 401.
	KindUnauthenticated
	// KindHTTP means the server answered with a 4xx/5xx status other than 401.
	KindHTTP
	// KindParse means the response body could not be decoded.
	KindParse
	// KindInvalid means the descriptor was malformed.
	KindInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindHTTP:
		return "http"
	case KindParse:
		return "parse"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Error is a classified request failure.
type Error struct {
	Kind   ErrorKind
	Status int    // HTTP status, 0 when no response was received
	Body   []byte // response body of KindHTTP errors
	Err    error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindHTTP:
		return fmt.Sprintf("apiclient: %d %s", e.Status, http.StatusText(e.Status))
	case e.Err != nil:
		return fmt.Sprintf("apiclient: %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("apiclient: %s", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrUnauthenticated:
		return e.Kind == KindUnauthenticated
	case ErrHTTP:
		return e.Kind == KindHTTP
	case ErrParse:
		return e.Kind == KindParse
	case ErrInvalidDescriptor:
		return e.Kind == KindInvalid
	}
	return false
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

func newError(kind ErrorKind, status int, err error) *Error {
	return &Error{Kind: kind, Status: status, Err: err}
}

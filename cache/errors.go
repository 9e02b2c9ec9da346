package cache

import "errors"

// Sentinel errors for cache operations.
var (
	ErrNilFetch         = errors.New("cache: fetch function is nil")
	ErrClosed           = errors.New("cache: resource is closed")
	ErrFetchPanic       = errors.New("cache: fetch panicked")
	ErrCorruptSnapshot  = errors.New("cache: persisted snapshot is malformed")
	ErrInvalidStoreName = errors.New("cache: storage name is invalid")
)

package storage

import (
	"context"
	"errors"
	"strings"
)

// MaxNameLength is the maximum allowed length for a storage name.
const MaxNameLength = 512

// Sentinel errors for storage operations.
var (
	ErrNilStorage   = errors.New("storage: storage is nil")
	ErrInvalidName  = errors.New("storage: name is invalid")
	ErrNameTooLong  = errors.New("storage: name exceeds max length")
	ErrClosed       = errors.New("storage: storage is closed")
	ErrUnknownStore = errors.New("storage: unknown backend")
)

// Storage is the durable key-value boundary.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods should honor cancellation/deadlines where applicable.
// - Errors: Read returns ("", false, nil) on miss; Remove is idempotent.
type Storage interface {
	// Read returns the value stored under name.
	Read(ctx context.Context, name string) (string, bool, error)

	// Write stores value under name, replacing any previous value.
	Write(ctx context.Context, name, value string) error

	// Remove deletes the value stored under name. No error on miss.
	Remove(ctx context.Context, name string) error
}

// Closer is implemented by backends holding external resources.
type Closer interface {
	Close() error
}

// ValidateName checks if a name is usable as a storage name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	if len(name) > MaxNameLength {
		return ErrNameTooLong
	}
	if strings.ContainsAny(name, "\n\r") {
		return ErrInvalidName
	}
	return nil
}

// Close releases s if it holds external resources.
func Close(s Storage) error {
	if c, ok := s.(Closer); ok {
		return c.Close()
	}
	return nil
}

package storage

import (
	"context"
	"sync"
)

// MemoryStorage is an in-process Storage. Contents do not survive restarts.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

// Read returns the stored value. Returns ("", false, nil) on miss.
func (s *MemoryStorage) Read(_ context.Context, name string) (string, bool, error) {
	if err := ValidateName(name); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	v, ok := s.values[name]
	s.mu.RUnlock()
	return v, ok, nil
}

// Write stores value under name.
func (s *MemoryStorage) Write(_ context.Context, name, value string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	s.values[name] = value
	s.mu.Unlock()
	return nil
}

// Remove deletes name. Idempotent - no error on miss.
func (s *MemoryStorage) Remove(_ context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.values, name)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored names.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Ensure MemoryStorage implements Storage
var _ Storage = (*MemoryStorage)(nil)

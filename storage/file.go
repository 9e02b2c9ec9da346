package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStorage keeps one file per name under a directory.
//
// Names are hex-encoded into file names so arbitrary names never escape
// the directory. Names too long to hex-encode within common file name
// limits are stored under their SHA-256 instead. Writes go to a temp file that is renamed into place, so
// readers see either the old or the new value.
type FileStorage struct {
	dir string
	mu  sync.Mutex
}

// NewFileStorage creates a file storage rooted at dir, creating it if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage: directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create directory: %w", err)
	}
	return &FileStorage{dir: filepath.Clean(dir)}, nil
}

// maxHexName is the longest name stored hex-encoded: its file name stays
// within the 255 byte limit of common file systems.
const maxHexName = 120

func (s *FileStorage) path(name string) string {
	return filepath.Join(s.dir, fileName(name))
}

func fileName(name string) string {
	if len(name) <= maxHexName {
		return hex.EncodeToString([]byte(name)) + ".kv"
	}
	sum := sha256.Sum256([]byte(name))
	return "h-" + hex.EncodeToString(sum[:]) + ".kv"
}

// Read returns the stored value. Returns ("", false, nil) on miss.
func (s *FileStorage) Read(ctx context.Context, name string) (string, bool, error) {
	if err := ValidateName(name); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: read %q: %w", name, err)
	}
	return string(data), true, nil
}

// Write stores value under name atomically.
func (s *FileStorage) Write(ctx context.Context, name, value string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: write %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: write %q: %w", name, err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: write %q: %w", name, err)
	}
	return nil
}

// Remove deletes name. Idempotent - no error on miss.
func (s *FileStorage) Remove(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: remove %q: %w", name, err)
	}
	return nil
}

// Ensure FileStorage implements Storage
var _ Storage = (*FileStorage)(nil)

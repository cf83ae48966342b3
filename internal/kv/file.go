package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore implements Store with one JSON file per key under a directory.
// Writes go through a temp file plus rename so a crash mid-write leaves
// either the old value or the new one, never a torn file.
type FileStore struct {
	dir    string
	logger *slog.Logger

	mu sync.Mutex
}

// NewFileStore creates a file-backed store rooted at dir, creating the
// directory if needed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create kv directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Get unmarshals the value for key into out. Absent files and files that
// fail to decode both report a miss; corruption is logged and left for the
// next Set to overwrite.
func (s *FileStore) Get(ctx context.Context, key string, out any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := s.path(key)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	data, err := os.ReadFile(path)
	s.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read kv value %s: %w", key, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		s.logger.Warn("discarding corrupt kv value", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

// Set marshals val and persists it atomically under key.
func (s *FileStore) Set(ctx context.Context, key string, val any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(key)
	if err != nil {
		return err
	}

	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("marshal kv value %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write kv value %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close kv temp file %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace kv value %s: %w", key, err)
	}
	return nil
}

// Delete removes the value for key.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete kv value %s: %w", key, err)
	}
	return nil
}

// path validates the key and maps it to a file under the store directory.
// Keys must be simple names; path separators are rejected so a key can
// never escape the directory.
func (s *FileStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

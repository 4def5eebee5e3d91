// Package fileblob stores blobs as files under one directory. It is the
// default backend of the instrument cache.
package fileblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/paa-listas/primary-go/internal/domain"
)

// DefaultDir returns the cache directory used when none is configured.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), "primary-cache")
}

// Store implements domain.BlobReader and domain.BlobWriter on a directory.
type Store struct {
	dir string
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fileblob: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// Get opens the file at path. A missing file yields domain.ErrNotFound.
func (s *Store) Get(_ context.Context, path string) (io.ReadCloser, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("fileblob: get %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("fileblob: get %s: %w", path, err)
	}
	return f, nil
}

// Exists reports whether a file is stored at path.
func (s *Store) Exists(_ context.Context, path string) (bool, error) {
	full, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	}
	return false, fmt.Errorf("fileblob: exists %s: %w", path, err)
}

// Put writes data to a temporary file and renames it over path, so readers
// never observe a partial blob.
func (s *Store) Put(ctx context.Context, path string, data io.Reader, _ string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("fileblob: put %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return fmt.Errorf("fileblob: put %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("fileblob: put %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fileblob: put %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("fileblob: put %s: %w", path, err)
	}
	return nil
}

// resolve maps a blob path inside the root, refusing paths that escape it.
func (s *Store) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(path))
	if clean == string(filepath.Separator) {
		return "", fmt.Errorf("fileblob: empty path")
	}
	full := filepath.Join(s.dir, clean)
	if !strings.HasPrefix(full, filepath.Clean(s.dir)+string(filepath.Separator)) {
		return "", fmt.Errorf("fileblob: path %q escapes root", path)
	}
	return full, nil
}

// Package storage stores and retrieves document byte streams by reference.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrBlobNotFound is returned when no blob exists for a reference.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore reads and writes opaque byte streams by reference. Generated
// documents, uploaded spreadsheets, and signature assets all live behind
// this boundary.
type BlobStore interface {
	Put(ctx context.Context, ref string, data io.Reader, contentType string) error
	Get(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}

// =============================================================================
// Local Filesystem Store
// =============================================================================

// LocalStore keeps blobs under a base directory. Suited to development and
// single-node deployments.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates a filesystem-backed blob store rooted at baseDir.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

// Put writes a blob, creating parent directories as needed.
func (s *LocalStore) Put(ctx context.Context, ref string, data io.Reader, contentType string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating blob parent dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating blob file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		os.Remove(path)
		return fmt.Errorf("writing blob: %w", err)
	}
	return nil
}

// Get opens a blob for reading.
func (s *LocalStore) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening blob: %w", err)
	}
	return f, nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}

// resolve maps a reference to a path inside the base directory, rejecting
// traversal outside it.
func (s *LocalStore) resolve(ref string) (string, error) {
	clean := filepath.Clean("/" + ref)
	if clean == "/" || strings.Contains(ref, "..") {
		return "", fmt.Errorf("invalid blob reference %q", ref)
	}
	return filepath.Join(s.baseDir, clean), nil
}

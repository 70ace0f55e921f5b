// Package storage persists snapshot images on local disk or in Google Cloud
// Storage.
package storage

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound means the object does not exist
var ErrNotFound = errors.New("object not found")

// ErrInvalidPath means a path escapes the storage root
var ErrInvalidPath = errors.New("invalid object path")

// Storage stores named blobs. Paths are slash separated and relative to
// the backend's root.
type Storage interface {
	Write(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)

	// List returns the object names directly under dir, sorted
	List(ctx context.Context, dir string) ([]string, error)
}

// cleanPath normalises p and rejects anything outside the root
func cleanPath(p string) (string, error) {
	cleaned := path.Clean("/" + p)[1:]
	if cleaned == "" || strings.Contains(p, "..") {
		return "", errors.Wrapf(ErrInvalidPath, "%q", p)
	}
	return cleaned, nil
}

// ContentType guesses the MIME type of an object from its extension
func ContentType(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// LocalStorage implements Storage using local filesystem
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	// Create base directory if it doesn't exist
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create base directory")
	}

	return &LocalStorage{
		baseDir: baseDir,
	}, nil
}

func (s *LocalStorage) fullPath(p string) (string, error) {
	cleaned, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(cleaned)), nil
}

// Write writes data to a file
func (s *LocalStorage) Write(_ context.Context, p string, data []byte) error {
	fullPath, err := s.fullPath(p)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create directory")
	}

	// Write to a temp file first so readers never see a partial image
	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write file")
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "failed to write file")
	}

	return nil
}

// Read reads data from a file
func (s *LocalStorage) Read(_ context.Context, p string) ([]byte, error) {
	fullPath, err := s.fullPath(p)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "%s", p)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file")
	}

	return data, nil
}

// Delete deletes a file. Deleting a missing file is not an error.
func (s *LocalStorage) Delete(_ context.Context, p string) error {
	fullPath, err := s.fullPath(p)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete file")
	}

	return nil
}

// Exists checks if a file exists
func (s *LocalStorage) Exists(_ context.Context, p string) (bool, error) {
	fullPath, err := s.fullPath(p)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to check file existence")
	}

	return true, nil
}

// List lists files in a directory. A missing directory is empty.
func (s *LocalStorage) List(_ context.Context, dir string) ([]string, error) {
	fullPath := s.baseDir
	if dir != "" {
		var err error
		if fullPath, err = s.fullPath(dir); err != nil {
			return nil, err
		}
	}

	entries, err := os.ReadDir(fullPath)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to list directory")
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && !strings.HasSuffix(entry.Name(), ".tmp") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	return files, nil
}

// New opens the backend named by kind: "local" under dir, or "gcs" in the
// given bucket
func New(ctx context.Context, kind, dir, projectID, bucket, baseDir string) (Storage, error) {
	switch kind {
	case "", "local":
		return NewLocalStorage(dir)
	case "gcs":
		return NewGCSStorage(ctx, projectID, bucket, baseDir)
	default:
		return nil, errors.Errorf("unknown storage type %q", kind)
	}
}

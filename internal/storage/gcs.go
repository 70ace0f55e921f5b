package storage

import (
	"context"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
)

// GCSStorage implements Storage using Google Cloud Storage
type GCSStorage struct {
	client     *storage.Client
	bucketName string
	baseDir    string
}

// NewGCSStorage creates a new GCS storage instance. baseDir is an optional
// object prefix within the bucket, e.g. "snapshots".
func NewGCSStorage(ctx context.Context, projectID, bucketName, baseDir string) (*GCSStorage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GCS client")
	}

	// Verify bucket exists
	if _, err := client.Bucket(bucketName).Attrs(ctx); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to access bucket %s in project %s", bucketName, projectID)
	}

	return &GCSStorage{
		client:     client,
		bucketName: bucketName,
		baseDir:    strings.Trim(baseDir, "/"),
	}, nil
}

func (s *GCSStorage) object(p string) (*storage.ObjectHandle, error) {
	name, err := s.objectName(p)
	if err != nil {
		return nil, err
	}
	return s.client.Bucket(s.bucketName).Object(name), nil
}

func (s *GCSStorage) objectName(p string) (string, error) {
	cleaned, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	if s.baseDir == "" {
		return cleaned, nil
	}
	return s.baseDir + "/" + cleaned, nil
}

// Write writes data to GCS
func (s *GCSStorage) Write(ctx context.Context, p string, data []byte) error {
	obj, err := s.object(p)
	if err != nil {
		return err
	}

	w := obj.NewWriter(ctx)
	w.ContentType = ContentType(p)
	w.CacheControl = "private, max-age=0"

	if _, err := w.Write(data); err != nil {
		w.Close()
		return errors.Wrap(err, "failed to write to GCS")
	}

	if err := w.Close(); err != nil {
		return errors.Wrap(err, "failed to close GCS writer")
	}

	return nil
}

// Read reads data from GCS
func (s *GCSStorage) Read(ctx context.Context, p string) ([]byte, error) {
	obj, err := s.object(p)
	if err != nil {
		return nil, err
	}

	r, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, errors.Wrapf(ErrNotFound, "%s", p)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read from GCS")
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read data")
	}

	return data, nil
}

// Delete deletes an object from GCS
func (s *GCSStorage) Delete(ctx context.Context, p string) error {
	obj, err := s.object(p)
	if err != nil {
		return err
	}

	if err := obj.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrap(err, "failed to delete from GCS")
	}

	return nil
}

// Exists checks if an object exists in GCS
func (s *GCSStorage) Exists(ctx context.Context, p string) (bool, error) {
	obj, err := s.object(p)
	if err != nil {
		return false, err
	}

	_, err = obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to check GCS object")
	}

	return true, nil
}

// List lists objects directly under dir
func (s *GCSStorage) List(ctx context.Context, dir string) ([]string, error) {
	prefix := s.baseDir
	if dir != "" {
		name, err := s.objectName(dir)
		if err != nil {
			return nil, err
		}
		prefix = name
	}
	if prefix != "" {
		prefix += "/"
	}

	it := s.client.Bucket(s.bucketName).Objects(ctx, &storage.Query{
		Prefix:    prefix,
		Delimiter: "/",
	})

	files := []string{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to list GCS objects")
		}

		// Prefix entries are subdirectories
		if attrs.Name == "" {
			continue
		}
		files = append(files, strings.TrimPrefix(attrs.Name, prefix))
	}
	sort.Strings(files)

	return files, nil
}

// Close closes the GCS client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

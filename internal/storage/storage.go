// Package storage writes uploaded images to an object bucket.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ImageCacheControl is applied to objects stored without an explicit
// Cache-Control. Image keys are never reused.
const ImageCacheControl = "public, max-age=31536000, immutable"

// ErrEmptyKey is returned by Put for an object without a key.
var ErrEmptyKey = errors.New("storage: empty object key")

// Object is one blob to store.
type Object struct {
	Key          string
	Body         io.Reader
	Size         int64
	ContentType  string
	CacheControl string

	// Metadata is stored with the object, such as the uploader's file name.
	Metadata map[string]string
}

// ObjectStorage is a bucket backend.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, obj Object) error
	Bucket() string
}

// Storage wraps an ObjectStorage backend with image defaults.
type Storage struct {
	backend ObjectStorage
}

func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend}
}

// EnsureBucket creates the bucket when missing and makes it publicly
// readable where the backend supports that.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Put stores obj under its key.
func (s *Storage) Put(ctx context.Context, obj Object) error {
	obj.Key = strings.TrimLeft(obj.Key, "/")
	if obj.Key == "" {
		return ErrEmptyKey
	}
	if obj.CacheControl == "" {
		obj.CacheControl = ImageCacheControl
	}
	return s.backend.Put(ctx, obj)
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}

package domain

import (
	"context"
	"io"
)

// BlobWriter stores opaque objects.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves opaque objects. Get returns ErrNotFound for a
// missing object.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

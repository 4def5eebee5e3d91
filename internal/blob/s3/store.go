package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/paa-listas/primary-go/internal/domain"
)

// Store implements domain.BlobReader and domain.BlobWriter on a bucket.
type Store struct {
	c *Client
}

// NewStore creates a Store over c.
func NewStore(c *Client) *Store {
	return &Store{c: c}
}

// Get returns the object body. The caller closes it. A missing object
// yields domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.c.bucket),
		Key:    aws.String(s.c.key(path)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return out.Body, nil
}

// Exists reports whether an object is stored at path.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.c.bucket),
		Key:    aws.String(s.c.key(path)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3blob: exists %s: %w", path, err)
	}
	return true, nil
}

// Put uploads data in a single PutObject request, replacing any previous
// object at path.
func (s *Store) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := s.c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.c.bucket),
		Key:         aws.String(s.c.key(path)),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// isNotFound matches NoSuchKey, the bare 404 HeadObject returns, and plain
// 404 responses from S3-compatible providers.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	type httpResponseError interface {
		HTTPStatusCode() int
	}
	var httpErr httpResponseError
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == 404
}

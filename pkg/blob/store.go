package blob

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by StoreError when an object does not exist.
var ErrNotFound = errors.New("object not found")

// StoreError reports a failed blob-store operation.
type StoreError struct {
	Op     string
	Bucket string
	Path   string
	Err    error
}

func (e *StoreError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("blob: %s %s/%s: %v", e.Op, e.Bucket, e.Path, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("blob: %s %s: %v", e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("blob: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store is the object-storage surface the pipeline needs: a bucket of
// blobs addressed by path, with prefix listing.
type Store interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string) error
	Put(ctx context.Context, bucket, path string, data []byte) error
	Get(ctx context.Context, bucket, path string) ([]byte, error)
	List(ctx context.Context, bucket, prefix string, recursive bool) ([]string, error)
}

// EnsureBucket creates the bucket when it does not exist yet.
func EnsureBucket(ctx context.Context, s Store, bucket string) error {
	exists, err := s.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.MakeBucket(ctx, bucket)
}

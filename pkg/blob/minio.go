package blob

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig carries the connection settings for a MinIO-compatible
// object store. The session token is optional.
type MinioConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	SessionToken string
	Secure       bool
}

// MinioStore implements Store on a MinIO-compatible object store.
type MinioStore struct {
	client *minio.Client
}

// NewMinioStore connects to the object store with static credentials.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, &StoreError{Op: "connect", Err: err}
	}
	return &MinioStore{client: client}, nil
}

func (s *MinioStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, &StoreError{Op: "bucket_exists", Bucket: bucket, Err: err}
	}
	return exists, nil
}

func (s *MinioStore) MakeBucket(ctx context.Context, bucket string) error {
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return &StoreError{Op: "make_bucket", Bucket: bucket, Err: err}
	}
	return nil
}

func (s *MinioStore) Put(ctx context.Context, bucket, path string, data []byte) error {
	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, bucket, path, reader, int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return &StoreError{Op: "put", Bucket: bucket, Path: path, Err: err}
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, bucket, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, &StoreError{Op: "get", Bucket: bucket, Path: path, Err: err}
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, &StoreError{Op: "get", Bucket: bucket, Path: path, Err: err}
	}
	return data, nil
}

func (s *MinioStore) List(ctx context.Context, bucket, prefix string, recursive bool) ([]string, error) {
	var paths []string
	opts := minio.ListObjectsOptions{Prefix: prefix, Recursive: recursive}
	for obj := range s.client.ListObjects(ctx, bucket, opts) {
		if obj.Err != nil {
			return nil, &StoreError{Op: "list", Bucket: bucket, Path: prefix, Err: obj.Err}
		}
		paths = append(paths, obj.Key)
	}
	return paths, nil
}

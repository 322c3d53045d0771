package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/flatdb/blobstore"
)

// Store keeps backups in a MinIO (or other S3-compatible) bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ blobstore.ExclusivePutter = (*Store)(nil)

// Config describes a MinIO endpoint with static credentials.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Secure    bool
	Bucket    string
	Prefix    string
}

// New connects to the endpoint in cfg and returns a store for its bucket.
func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	return NewStore(client, cfg.Bucket, cfg.Prefix), nil
}

// NewStore wraps an existing client. Blob names are stored under prefix in
// bucket.
func NewStore(client *minio.Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *Store) key(name string) string { return path.Join(s.prefix, name) }

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// Open stats name and returns a handle for ranged reads.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.key(name)
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
		}
		return nil, err
	}
	return &object{store: s, key: key, size: info.Size}, nil
}

// Put uploads data as name, replacing any existing object.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	return s.put(ctx, name, data, minio.PutObjectOptions{})
}

// PutIfNotExists uploads data unless name exists. The check is done by the
// server through If-None-Match.
func (s *Store) PutIfNotExists(ctx context.Context, name string, data []byte) error {
	var opts minio.PutObjectOptions
	opts.SetMatchETagExcept("*")
	err := s.put(ctx, name, data, opts)
	if err != nil && minio.ToErrorResponse(err).Code == "PreconditionFailed" {
		return fmt.Errorf("%w: %s", blobstore.ErrExists, name)
	}
	return err
}

func (s *Store) put(ctx context.Context, name string, data []byte, opts minio.PutObjectOptions) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), opts)
	return err
}

// Create streams a backup blob of unknown length. MinIO switches to a
// multipart upload on its own; the object appears on Close.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	key := s.key(name)
	return blobstore.NewStreamingBlob(func(body io.Reader) error {
		_, err := s.client.PutObject(ctx, s.bucket, key, body, -1, minio.PutObjectOptions{})
		return err
	}), nil
}

// Delete removes name. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// List returns the sorted names under prefix, relative to the store prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.key(prefix), Recursive: true})
	for obj := range objects {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if name := strings.TrimPrefix(strings.TrimPrefix(obj.Key, s.prefix), "/"); name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

type object struct {
	store *Store
	key   string
	size  int64
}

func (o *object) Size() int64 { return o.size }

func (o *object) Close() error { return nil }

func (o *object) get(ctx context.Context, off, length int64) (*minio.Object, int64, error) {
	last, ok := blobstore.ClampRange(off, length, o.size)
	if !ok {
		return nil, 0, io.EOF
	}
	var opts minio.GetObjectOptions
	if err := opts.SetRange(off, last); err != nil {
		return nil, 0, err
	}
	obj, err := o.store.client.GetObject(ctx, o.store.bucket, o.key, opts)
	if err != nil {
		return nil, 0, err
	}
	return obj, last - off + 1, nil
}

func (o *object) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 && off < o.size {
		return 0, nil
	}
	obj, n, err := o.get(ctx, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer func() { _ = obj.Close() }()

	read, err := io.ReadFull(obj, p[:n])
	if err == nil && n < int64(len(p)) {
		err = io.EOF
	}
	return read, err
}

func (o *object) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if length <= 0 && off < o.size {
		return io.NopCloser(strings.NewReader("")), nil
	}
	obj, _, err := o.get(ctx, off, length)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/hupe1980/flatdb/blobstore"
)

// ExpressStore implements blobstore.BlobStore for S3 Express One Zone
// directory buckets (names ending in --x-s3).
//
// Directory buckets support conditional writes, so ExpressStore also
// implements blobstore.ExclusivePutter: a backup manifest written through it
// never replaces an existing one.
type ExpressStore struct {
	client Client
	bucket string
	prefix string
}

var _ blobstore.ExclusivePutter = (*ExpressStore)(nil)

// NewExpressStore creates a new S3 Express One Zone blob store.
func NewExpressStore(client Client, bucket, rootPrefix string) *ExpressStore {
	return &ExpressStore{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

func (s *ExpressStore) key(name string) string {
	return joinKey(s.prefix, name)
}

// Open opens a blob for range reads.
func (s *ExpressStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	return openObject(ctx, s.client, s.bucket, s.key(name))
}

// Put writes a blob, replacing any existing one.
func (s *ExpressStore) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   bytes.NewReader(data),
	})
	return err
}

// PutIfNotExists writes a blob only if it does not exist yet. It returns
// blobstore.ErrExists otherwise.
func (s *ExpressStore) PutIfNotExists(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name)),
		Body:        bytes.NewReader(data),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "PreconditionFailed", "ConditionalRequestConflict":
				return fmt.Errorf("%w: %s", blobstore.ErrExists, name)
			}
		}
		return err
	}
	return nil
}

// Create starts a streaming upload. The object appears on Close.
func (s *ExpressStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	key := s.key(name)
	uploader := newUploader(s.client, DefaultUploadConfig())

	return blobstore.NewStreamingBlob(func(body io.Reader) error {
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   body,
		})
		return err
	}), nil
}

// Delete removes a blob.
func (s *ExpressStore) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

// List returns the sorted names of all blobs starting with prefix.
func (s *ExpressStore) List(ctx context.Context, prefix string) ([]string, error) {
	return listObjects(ctx, s.client, s.bucket, s.key(prefix), s.prefix)
}

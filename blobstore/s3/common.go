package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hupe1980/flatdb/blobstore"
)

// Client is the subset of the S3 API used by the stores. *s3.Client
// implements it.
type Client interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

var _ Client = (*s3.Client)(nil)

func joinKey(prefix, name string) string {
	return path.Join(prefix, name)
}

// object is an opened S3 object. Every read is one ranged GetObject.
type object struct {
	client Client
	bucket string
	key    string
	size   int64
}

func (o *object) Size() int64 { return o.size }

func (o *object) Close() error { return nil }

func (o *object) get(ctx context.Context, off, length int64) (io.ReadCloser, bool, error) {
	last, ok := blobstore.ClampRange(off, length, o.size)
	if !ok {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	resp, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, last)),
	})
	if err != nil {
		return nil, false, err
	}
	return resp.Body, true, nil
}

// ReadAt fills p from off. A read that runs past the object returns the
// available bytes with io.EOF.
func (o *object) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= o.size {
		return 0, io.EOF
	}
	body, ok, err := o.get(ctx, off, int64(len(p)))
	if err != nil || !ok {
		return 0, err
	}
	defer func() { _ = body.Close() }()

	want := min(int64(len(p)), o.size-off)
	n, err := io.ReadFull(body, p[:want])
	if err == nil && want < int64(len(p)) {
		err = io.EOF
	}
	return n, err
}

// ReadRange streams up to length bytes starting at off.
func (o *object) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off >= o.size {
		return nil, io.EOF
	}
	body, ok, err := o.get(ctx, off, length)
	if err != nil {
		return nil, err
	}
	if !ok {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return body, nil
}

// listObjects pages through every key under fullPrefix and returns the names
// relative to rootPrefix.
func listObjects(ctx context.Context, client Client, bucket, fullPrefix, rootPrefix string) ([]string, error) {
	var names []string

	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(fullPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), rootPrefix)
			names = append(names, strings.TrimPrefix(rel, "/"))
		}
	}
	slices.Sort(names)
	return names, nil
}

// openObject stats key so reads can be clamped to the object size.
func openObject(ctx context.Context, client Client, bucket, key string) (*object, error) {
	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
		}
		return nil, err
	}

	return &object{client: client, bucket: bucket, key: key, size: aws.ToInt64(head.ContentLength)}, nil
}

// isNotFound matches HeadObject (NotFound) and GetObject (NoSuchKey) misses.
func isNotFound(err error) bool {
	var head *types.NotFound
	var get *types.NoSuchKey
	return errors.As(err, &head) || errors.As(err, &get)
}

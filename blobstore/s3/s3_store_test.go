package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flatdb/blobstore"
)

func TestStore_Open(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "backups", "orders")

	t.Run("NotFound", func(t *testing.T) {
		mockClient.On("HeadObject", mock.Anything, mock.MatchedBy(func(input *s3.HeadObjectInput) bool {
			return *input.Bucket == "backups" && *input.Key == "orders/missing"
		})).Return(nil, &types.NotFound{}).Once()

		_, err := store.Open(context.Background(), "missing")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("Success", func(t *testing.T) {
		mockClient.On("HeadObject", mock.Anything, mock.MatchedBy(func(input *s3.HeadObjectInput) bool {
			return *input.Bucket == "backups" && *input.Key == "orders/orders-0001.data"
		})).Return(&s3.HeadObjectOutput{
			ContentLength: aws.Int64(100),
		}, nil).Once()

		blob, err := store.Open(context.Background(), "orders-0001.data")
		require.NoError(t, err)
		assert.Equal(t, int64(100), blob.Size())
	})

	mockClient.AssertExpectations(t)
}

func TestStore_Delete(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "backups", "orders")

	mockClient.On("DeleteObject", mock.Anything, mock.MatchedBy(func(input *s3.DeleteObjectInput) bool {
		return *input.Key == "orders/old"
	})).Return(&s3.DeleteObjectOutput{}, nil).Once()
	mockClient.On("DeleteObject", mock.Anything, mock.MatchedBy(func(input *s3.DeleteObjectInput) bool {
		return *input.Key == "orders/gone"
	})).Return(nil, &types.NoSuchKey{}).Once()

	require.NoError(t, store.Delete(context.Background(), "old"))
	require.NoError(t, store.Delete(context.Background(), "gone"))
	mockClient.AssertExpectations(t)
}

func TestStore_List(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "backups", "orders/")

	mockClient.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(input *s3.ListObjectsV2Input) bool {
		return *input.Bucket == "backups" && *input.Prefix == "orders"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("orders/orders-0002.data")},
			{Key: aws.String("orders/orders-0001.data")},
		},
	}, nil).Once()

	keys, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders-0001.data", "orders-0002.data"}, keys)
}

func TestStore_List_Pagination(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "backups", "orders/")

	mockClient.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(input *s3.ListObjectsV2Input) bool {
		return input.ContinuationToken == nil
	})).Return(&s3.ListObjectsV2Output{
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("token"),
		Contents:              []types.Object{{Key: aws.String("orders/1")}},
	}, nil).Once()

	mockClient.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(input *s3.ListObjectsV2Input) bool {
		return input.ContinuationToken != nil && *input.ContinuationToken == "token"
	})).Return(&s3.ListObjectsV2Output{
		IsTruncated: aws.Bool(false),
		Contents:    []types.Object{{Key: aws.String("orders/2")}},
	}, nil).Once()

	keys, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, keys)
	mockClient.AssertExpectations(t)
}

func TestObject_ReadAt(t *testing.T) {
	mockClient := new(MockS3Client)
	blob := &object{client: mockClient, bucket: "b", key: "k", size: 10}
	ctx := context.Background()

	mockClient.On("GetObject", mock.Anything, mock.MatchedBy(func(input *s3.GetObjectInput) bool {
		return *input.Bucket == "b" && *input.Key == "k" && *input.Range == "bytes=0-4"
	})).Return(&s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader("hello")),
	}, nil).Once()

	buf := make([]byte, 5)
	n, err := blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))

	t.Run("ShortTail", func(t *testing.T) {
		mockClient.On("GetObject", mock.Anything, mock.MatchedBy(func(input *s3.GetObjectInput) bool {
			return *input.Range == "bytes=8-9"
		})).Return(&s3.GetObjectOutput{
			Body: io.NopCloser(strings.NewReader("ld")),
		}, nil).Once()

		buf := make([]byte, 4)
		n, err := blob.ReadAt(ctx, buf, 8)
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, 2, n)
		assert.Equal(t, "ld", string(buf[:n]))
	})

	t.Run("PastEnd", func(t *testing.T) {
		n, err := blob.ReadAt(ctx, make([]byte, 1), 10)
		assert.ErrorIs(t, err, io.EOF)
		assert.Zero(t, n)
	})

	mockClient.AssertExpectations(t)
}

func TestObject_ReadRange(t *testing.T) {
	mockClient := new(MockS3Client)
	blob := &object{client: mockClient, bucket: "b", key: "k", size: 10}

	mockClient.On("GetObject", mock.Anything, mock.MatchedBy(func(input *s3.GetObjectInput) bool {
		return *input.Bucket == "b" && *input.Key == "k" && *input.Range == "bytes=2-6"
	})).Return(&s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader("llo W")),
	}, nil).Once()

	r, err := blob.ReadRange(context.Background(), 2, 5)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	buf, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "llo W", string(buf))

	_, err = blob.ReadRange(context.Background(), 10, 1)
	assert.ErrorIs(t, err, io.EOF)
}

func TestStore_Create(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "backups", "orders")

	var uploaded bytes.Buffer
	mockClient.On("PutObject", mock.Anything, mock.MatchedBy(func(input *s3.PutObjectInput) bool {
		return *input.Bucket == "backups" && *input.Key == "orders/orders-0001.data"
	})).Run(func(args mock.Arguments) {
		input := args.Get(1).(*s3.PutObjectInput)
		_, _ = io.Copy(&uploaded, input.Body)
	}).Return(&s3.PutObjectOutput{}, nil).Once()

	wb, err := store.Create(context.Background(), "orders-0001.data")
	require.NoError(t, err)

	_, err = wb.Write([]byte("records"))
	require.NoError(t, err)
	require.NoError(t, wb.Sync())
	require.NoError(t, wb.Close())

	assert.Equal(t, "records", uploaded.String())
	assert.ErrorIs(t, wb.Close(), io.ErrClosedPipe)
	mockClient.AssertExpectations(t)
}

func TestStore_Put_Checksum(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "backups", "")

	mockClient.On("PutObject", mock.Anything, mock.MatchedBy(func(input *s3.PutObjectInput) bool {
		return *input.Key == "CURRENT" &&
			aws.ToString(input.ChecksumCRC32C) == "4waSgw==" &&
			aws.ToInt64(input.ContentLength) == 9
	})).Return(&s3.PutObjectOutput{}, nil).Once()

	require.NoError(t, store.Put(context.Background(), blobstore.CurrentName, []byte("123456789")))
	mockClient.AssertExpectations(t)
}

func TestExpressStore_PutIfNotExists(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewExpressStore(mockClient, "backups--use1-az4--x-s3", "orders")
	ctx := context.Background()

	mockClient.On("PutObject", mock.Anything, mock.MatchedBy(func(input *s3.PutObjectInput) bool {
		return *input.Key == "orders/orders-0001.manifest" && aws.ToString(input.IfNoneMatch) == "*"
	})).Return(&s3.PutObjectOutput{}, nil).Once()
	mockClient.On("PutObject", mock.Anything, mock.MatchedBy(func(input *s3.PutObjectInput) bool {
		return *input.Key == "orders/orders-0002.manifest"
	})).Return(nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}).Once()
	mockClient.On("PutObject", mock.Anything, mock.MatchedBy(func(input *s3.PutObjectInput) bool {
		return *input.Key == "orders/orders-0003.manifest"
	})).Return(nil, errors.New("connection reset")).Once()

	require.NoError(t, store.PutIfNotExists(ctx, "orders-0001.manifest", []byte("{}")))

	err := store.PutIfNotExists(ctx, "orders-0002.manifest", []byte("{}"))
	assert.ErrorIs(t, err, blobstore.ErrExists)

	err = store.PutIfNotExists(ctx, "orders-0003.manifest", []byte("{}"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, blobstore.ErrExists)

	mockClient.AssertExpectations(t)
}

func TestStore_Integration(t *testing.T) {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		t.Skip("S3_BUCKET not set")
	}

	ctx := context.Background()
	store, err := New(ctx, bucket, WithPrefix("flatdb-test"), WithRegion(os.Getenv("AWS_REGION")))
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "probe", []byte("flatdb")))
	t.Cleanup(func() { _ = store.Delete(ctx, "probe") })

	data, err := blobstore.ReadAll(ctx, store, "probe")
	require.NoError(t, err)
	assert.Equal(t, "flatdb", string(data))
}

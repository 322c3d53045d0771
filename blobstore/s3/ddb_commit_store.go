package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/flatdb/blobstore"
)

// DDBCommitStore wraps a blob store and keeps the CURRENT pointer in
// DynamoDB instead of in a blob.
//
// Every Put of CURRENT appends a new version row with a conditional write,
// so two writers racing to publish a backup can not silently overwrite
// each other: the loser gets ErrConcurrentModification. All other blobs go
// to the wrapped store.
//
// Table schema:
//   - Partition key: base_uri (string), the bucket/prefix of the backups
//   - Sort key: version (number), increasing by one per commit
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name flatdb-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	base      blobstore.BlobStore
	ddbClient DDBClient
	tableName string
	baseURI   string
}

// DDBClient is the subset of the DynamoDB API used by DDBCommitStore.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ DDBClient = (*dynamodb.Client)(nil)

// ErrConcurrentModification is returned when another writer committed first.
var ErrConcurrentModification = errors.New("s3: concurrent modification detected")

// NewDDBCommitStore creates a commit store over base. baseURI identifies
// the backup location, typically "s3://bucket/prefix".
func NewDDBCommitStore(base blobstore.BlobStore, ddbClient DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		base:      base,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Open opens a blob for reading. CURRENT is served from DynamoDB.
func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name != blobstore.CurrentName {
		return s.base.Open(ctx, name)
	}

	version, target, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, name)
	}
	return &pointerBlob{r: bytes.NewReader([]byte(target))}, nil
}

// Put writes a blob. CURRENT is committed to DynamoDB.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name == blobstore.CurrentName {
		return s.commit(ctx, string(data))
	}
	return s.base.Put(ctx, name, data)
}

// Create creates a writable blob in the wrapped store.
func (s *DDBCommitStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return s.base.Create(ctx, name)
}

// Delete deletes a blob from the wrapped store.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	return s.base.Delete(ctx, name)
}

// List lists blobs of the wrapped store.
func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.base.List(ctx, prefix)
}

// Version returns the latest committed version, zero before the first commit.
func (s *DDBCommitStore) Version(ctx context.Context) (uint64, error) {
	v, _, err := s.latest(ctx)
	return v, err
}

func (s *DDBCommitStore) latest(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("s3: query commits: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("s3: commit row has no version")
	}
	targetAttr, ok := item["backup"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("s3: commit row has no backup")
	}

	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("s3: parse commit version: %w", err)
	}
	return version, targetAttr.Value, nil
}

func (s *DDBCommitStore) commit(ctx context.Context, target string) error {
	current, _, err := s.latest(ctx)
	if err != nil {
		return err
	}

	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: s.baseURI},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(current+1, 10)},
			"backup":   &types.AttributeValueMemberS{Value: target},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("s3: commit version %d: %w", current+1, err)
	}
	return nil
}

// pointerBlob serves the CURRENT value read from DynamoDB.
type pointerBlob struct {
	r *bytes.Reader
}

func (b *pointerBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	return b.r.ReadAt(p, off)
}

func (b *pointerBlob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	return io.NopCloser(io.NewSectionReader(b.r, off, length)), nil
}

func (b *pointerBlob) Size() int64 { return b.r.Size() }

func (b *pointerBlob) Close() error { return nil }

package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/vexdb/vexdb/blobstore"
)

// CurrentBlobName is the virtual blob holding the latest snapshot pointer.
const CurrentBlobName = "CURRENT"

// ErrConcurrentModification is returned when a concurrent snapshot commit is
// detected.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// DDBClient is the subset of the DynamoDB API the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DDBCommitStore layers DynamoDB-backed atomic commits over an S3 store.
//
// S3 offers no compare-and-swap, so the pointer to the current snapshot lives
// in a DynamoDB table keyed by (base_uri, version): writing CURRENT performs
// a conditional put of version+1, letting concurrent writers coordinate
// safely. All other blobs pass straight through to S3.
//
// Table schema: partition key base_uri (S), sort key version (N).
type DDBCommitStore struct {
	inner     blobstore.BlobStore
	ddbClient DDBClient
	tableName string
	baseURI   string
}

// NewDDBCommitStore creates a commit store over inner.
// baseURI (e.g. "s3://bucket/prefix") is the partition key.
func NewDDBCommitStore(inner blobstore.BlobStore, ddbClient DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		inner:     inner,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Open implements blobstore.BlobStore. Opening CURRENT reads the pointer
// from DynamoDB.
func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name == CurrentBlobName {
		version, snapshotName, err := s.latestVersion(ctx)
		if err != nil {
			return nil, err
		}
		if version == 0 {
			return nil, blobstore.ErrNotFound
		}
		return &pointerBlob{content: []byte(snapshotName)}, nil
	}
	return s.inner.Open(ctx, name)
}

// Put implements blobstore.BlobStore. Writing CURRENT commits a new version
// through a conditional DynamoDB put.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name == CurrentBlobName {
		return s.commit(ctx, string(data))
	}
	return s.inner.Put(ctx, name, data)
}

// Delete implements blobstore.BlobStore.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	return s.inner.Delete(ctx, name)
}

// List implements blobstore.BlobStore.
func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *DDBCommitStore) latestVersion(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":uri": &ddbtypes.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query commit table: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*ddbtypes.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("malformed version attribute")
	}
	nameAttr, ok := item["snapshot_name"].(*ddbtypes.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("malformed snapshot_name attribute")
	}

	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("parse version: %w", err)
	}
	return version, nameAttr.Value, nil
}

func (s *DDBCommitStore) commit(ctx context.Context, snapshotName string) error {
	current, _, err := s.latestVersion(ctx)
	if err != nil {
		return err
	}
	next := current + 1

	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]ddbtypes.AttributeValue{
			"base_uri":      &ddbtypes.AttributeValueMemberS{Value: s.baseURI},
			"version":       &ddbtypes.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"snapshot_name": &ddbtypes.AttributeValueMemberS{Value: snapshotName},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var cond *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("commit version %d: %w", next, err)
	}
	return nil
}

type pointerBlob struct {
	content []byte
}

func (b *pointerBlob) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b.content)) {
		return 0, errors.New("read past end of blob")
	}
	return copy(p, b.content[off:]), nil
}

func (b *pointerBlob) Close() error { return nil }

func (b *pointerBlob) Size() int64 { return int64(len(b.content)) }

package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/canopy/internal/shard"
	"github.com/jacentio/canopy/mpath"
	"github.com/jacentio/canopy/tree"
)

// API is the subset of the DynamoDB client used by the Store.
// *dynamodb.Client satisfies it.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// PK represents a DynamoDB primary key.
type PK map[string]types.AttributeValue

// sequenceID is the reserved id of the row holding the id sequence. It has
// no partition attribute and therefore never shows up in the path index.
const sequenceID = 0

// nodeItem is the stored layout of a node row.
type nodeItem struct {
	ID        int64             `dynamodbav:"id"`
	ParentID  *int64            `dynamodbav:"parent_id,omitempty"`
	Path      string            `dynamodbav:"path"`
	Depth     int               `dynamodbav:"depth"`
	Partition string            `dynamodbav:"partition"`
	Name      string            `dynamodbav:"name,omitempty"`
	Attrs     map[string]string `dynamodbav:"attrs,omitempty"`
	Version   int64             `dynamodbav:"version"`
	CreatedAt string            `dynamodbav:"created_at,omitempty"`
	UpdatedAt string            `dynamodbav:"updated_at,omitempty"`
	TTL       int64             `dynamodbav:"ttl,omitempty"`
}

// NodeKey returns the primary key of the node with the given id.
func NodeKey(id int64) PK {
	return PK{
		"id": &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
	}
}

// partitionFor returns the index partition of the tree the path belongs to.
func (s *Store) partitionFor(path string) (string, error) {
	rootID, err := mpath.RootID(path)
	if err != nil {
		return "", err
	}
	return shard.PathPartition(s.config.TreeName, rootID, s.config.NumShards), nil
}

// marshalNode converts a node to a DynamoDB item with managed fields set.
func (s *Store) marshalNode(n tree.Node, nowISO string) (map[string]types.AttributeValue, error) {
	partition, err := s.partitionFor(n.Path)
	if err != nil {
		return nil, err
	}
	version := n.Version
	if version < 1 {
		version = 1
	}
	item, err := attributevalue.MarshalMap(nodeItem{
		ID:        n.ID,
		ParentID:  n.ParentID,
		Path:      n.Path,
		Depth:     mpath.Depth(n.Path),
		Partition: partition,
		Name:      n.Name,
		Attrs:     n.Attrs,
		Version:   version,
		CreatedAt: nowISO,
		UpdatedAt: nowISO,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal node %d: %w", n.ID, err)
	}
	return item, nil
}

// unmarshalNode converts a DynamoDB item to a node.
func unmarshalNode(raw map[string]types.AttributeValue) (tree.Node, error) {
	var it nodeItem
	if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
		return tree.Node{}, fmt.Errorf("unmarshal node: %w", err)
	}
	return tree.Node{
		ID:       it.ID,
		ParentID: it.ParentID,
		Path:     it.Path,
		Name:     it.Name,
		Attrs:    it.Attrs,
		Version:  it.Version,
	}, nil
}

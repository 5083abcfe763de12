package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/canopy/mpath"
	"github.com/jacentio/canopy/tree"
)

var fixedNow = time.Unix(1700000000, 0)

func newTestStore(api API, cfg Config) *Store {
	s := New(api, cfg)
	s.now = func() time.Time { return fixedNow }
	return s
}

// --- NextID ---

func TestNextID(t *testing.T) {
	api := &fakeAPI{
		updateItem: func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return &dynamodb.UpdateItemOutput{
				Attributes: map[string]types.AttributeValue{
					"next_id": &types.AttributeValueMemberN{Value: "7"},
				},
			}, nil
		},
	}
	s := newTestStore(api, DefaultConfig())

	id, err := s.NextID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	require.Len(t, api.updates, 1)
	in := api.updates[0]
	assert.Equal(t, types.ReturnValueUpdatedNew, in.ReturnValues)
	assert.Equal(t, "0", in.Key["id"].(*types.AttributeValueMemberN).Value)
	assert.Contains(t, aws.ToString(in.UpdateExpression), "ADD")
	assert.True(t, hasName(in.ExpressionAttributeNames, "next_id"))
}

func TestNextID_MissingAttribute(t *testing.T) {
	s := newTestStore(&fakeAPI{}, DefaultConfig())

	_, err := s.NextID(context.Background())
	assert.ErrorIs(t, err, ErrSequenceUnavailable)
}

// --- Insert ---

func TestInsert_Root(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(api, DefaultConfig())

	err := s.Insert(context.Background(), tree.Node{ID: 1, Path: "1.", Name: "a1", Attrs: map[string]string{"color": "red"}})
	require.NoError(t, err)

	require.Len(t, api.transacts, 1)
	in := api.transacts[0]
	require.Len(t, in.TransactItems, 1)
	assert.NotEmpty(t, aws.ToString(in.ClientRequestToken))

	put := in.TransactItems[0].Put
	require.NotNil(t, put)
	assert.Equal(t, "canopy_nodes", aws.ToString(put.TableName))
	assert.Equal(t, "1.", put.Item["path"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "0", put.Item["depth"].(*types.AttributeValueMemberN).Value)
	assert.Equal(t, "canopy#00", put.Item["partition"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "1", put.Item["version"].(*types.AttributeValueMemberN).Value)
	assert.Equal(t, "2023-11-14T22:13:20Z", put.Item["created_at"].(*types.AttributeValueMemberS).Value)
	assert.NotContains(t, put.Item, "parent_id")
	assert.NotContains(t, put.Item, "ttl")
	assert.Contains(t, aws.ToString(put.ConditionExpression), "attribute_not_exists")

	attrs := put.Item["attrs"].(*types.AttributeValueMemberM).Value
	assert.Equal(t, "red", attrs["color"].(*types.AttributeValueMemberS).Value)
}

func TestInsert_ChildChecksParent(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(api, DefaultConfig())

	err := s.Insert(context.Background(), tree.Node{ID: 2, ParentID: tree.ParentIDOf(1), Path: "1.2.", Name: "a11"})
	require.NoError(t, err)

	items := api.transacts[0].TransactItems
	require.Len(t, items, 2)

	check := items[0].ConditionCheck
	require.NotNil(t, check)
	assert.Equal(t, "1", check.Key["id"].(*types.AttributeValueMemberN).Value)
	assert.Contains(t, aws.ToString(check.ConditionExpression), "attribute_exists")
	assert.True(t, hasName(check.ExpressionAttributeNames, "ttl"))
	assert.True(t, hasValue(check.ExpressionAttributeValues, &types.AttributeValueMemberN{Value: "1700000000"}))
	assert.True(t, hasName(check.ExpressionAttributeNames, "path"))
	assert.True(t, hasValue(check.ExpressionAttributeValues, &types.AttributeValueMemberS{Value: "1."}))
	assert.Equal(t, types.ReturnValuesOnConditionCheckFailureAllOld, check.ReturnValuesOnConditionCheckFailure)

	put := items[1].Put
	require.NotNil(t, put)
	assert.Equal(t, "1", put.Item["parent_id"].(*types.AttributeValueMemberN).Value)
	assert.Equal(t, "1", put.Item["depth"].(*types.AttributeValueMemberN).Value)
}

func TestInsert_MapsTransactionErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{"parent check failed", cancelled("ConditionalCheckFailed", "None"), tree.ErrParentNotFound},
		{"put failed", cancelled("None", "ConditionalCheckFailed"), tree.ErrAlreadyExists},
		{"parent moved", movedParent(nodeRaw(1, 0, "5.1.")), tree.ErrConcurrentModification},
		{"parent deleted", movedParent(deletedRaw(1, 0, "1.")), tree.ErrParentNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{
				transact: func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
					return nil, tt.err
				},
			}
			s := newTestStore(api, DefaultConfig())

			err := s.Insert(context.Background(), tree.Node{ID: 2, ParentID: tree.ParentIDOf(1), Path: "1.2."})
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

// movedParent fails the parent check and returns the parent's current item.
func movedParent(parent map[string]types.AttributeValue) error {
	code, none := "ConditionalCheckFailed", "None"
	return &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
		{Code: &code, Item: parent},
		{Code: &none},
	}}
}

func deletedRaw(id, parentID int64, path string) map[string]types.AttributeValue {
	raw := nodeRaw(id, parentID, path)
	raw["ttl"] = &types.AttributeValueMemberN{Value: "1000000000"}
	return raw
}

func TestInsert_MalformedPath(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(api, DefaultConfig())

	err := s.Insert(context.Background(), tree.Node{ID: 1, Path: "x."})
	assert.Error(t, err)

	err = s.Insert(context.Background(), tree.Node{ID: 2, ParentID: tree.ParentIDOf(1), Path: "1.2"})
	assert.ErrorIs(t, err, mpath.ErrMalformedPath)
	assert.Empty(t, api.transacts)
}

// --- Get ---

func TestGet(t *testing.T) {
	api := &fakeAPI{
		getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: nodeRaw(2, 1, "1.2.")}, nil
		},
	}
	s := newTestStore(api, DefaultConfig())

	n, err := s.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n.ID)
	require.NotNil(t, n.ParentID)
	assert.Equal(t, int64(1), *n.ParentID)
	assert.Equal(t, "1.2.", n.Path)
	assert.Equal(t, "n2", n.Name)
	assert.Equal(t, int64(1), n.Version)
	assert.True(t, aws.ToBool(api.gets[0].ConsistentRead))
}

func TestGet_NotFound(t *testing.T) {
	deleted := nodeRaw(2, 1, "1.2.")
	deleted["ttl"] = &types.AttributeValueMemberN{Value: "1000000000"}

	tests := []struct {
		name string
		item map[string]types.AttributeValue
	}{
		{"missing", nil},
		{"deleted", deleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{
				getItem: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
					return &dynamodb.GetItemOutput{Item: tt.item}, nil
				},
			}
			s := newTestStore(api, DefaultConfig())

			_, err := s.Get(context.Background(), 2)
			assert.ErrorIs(t, err, tree.ErrNotFound)
		})
	}
}

func TestGet_SequenceRowIsHidden(t *testing.T) {
	api := &fakeAPI{
		getItem: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
				"id":      &types.AttributeValueMemberN{Value: "0"},
				"next_id": &types.AttributeValueMemberN{Value: "5"},
			}}, nil
		},
	}
	s := newTestStore(api, DefaultConfig())

	_, err := s.Get(context.Background(), 0)
	assert.ErrorIs(t, err, tree.ErrNotFound)
}

// --- Query ---

func TestQuery_PathPrefix(t *testing.T) {
	api := &fakeAPI{
		query: func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
				nodeRaw(4, 1, "1.4."),
				nodeRaw(1, 0, "1."),
				nodeRaw(2, 1, "1.2."),
				nodeRaw(12, 0, "12."), // never returned by begins_with "1.", dropped client side too
			}}, nil
		},
	}
	s := newTestStore(api, DefaultConfig())

	nodes, err := s.Query(context.Background(), tree.Predicate{Kind: tree.KindPathPrefix, PathPrefix: "1."})
	require.NoError(t, err)

	ids := make([]int64, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	assert.Equal(t, []int64{1, 2, 4}, ids)

	require.Len(t, api.queries, 1)
	in := api.queries[0]
	assert.Equal(t, "path_index", aws.ToString(in.IndexName))
	assert.Contains(t, aws.ToString(in.KeyConditionExpression), "begins_with")
	assert.True(t, hasName(in.ExpressionAttributeNames, "partition"))
	assert.True(t, hasName(in.ExpressionAttributeNames, "path"))
	assert.True(t, hasValue(in.ExpressionAttributeValues, &types.AttributeValueMemberS{Value: "1."}))
	assert.True(t, hasValue(in.ExpressionAttributeValues, &types.AttributeValueMemberS{Value: "canopy#00"}))
	assert.True(t, hasName(in.ExpressionAttributeNames, "ttl"))
	assert.False(t, hasName(in.ExpressionAttributeNames, "depth"))
}

func TestQuery_PathPrefixWithDepth(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(api, DefaultConfig())

	_, err := s.Query(context.Background(), tree.Predicate{Kind: tree.KindPathPrefix, PathPrefix: "1.2.", MaxDepth: tree.Depth(2)})
	require.NoError(t, err)

	in := api.queries[0]
	assert.True(t, hasName(in.ExpressionAttributeNames, "depth"))
	assert.True(t, hasValue(in.ExpressionAttributeValues, &types.AttributeValueMemberN{Value: "2"}))
	assert.Contains(t, aws.ToString(in.FilterExpression), "<=")
}

func TestQuery_RootsFanOut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumShards = 4
	api := &fakeAPI{
		query: func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			for _, v := range in.ExpressionAttributeValues {
				if sv, ok := v.(*types.AttributeValueMemberS); ok && sv.Value == "canopy#02" {
					return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{nodeRaw(9, 0, "9.")}}, nil
				}
				if sv, ok := v.(*types.AttributeValueMemberS); ok && sv.Value == "canopy#00" {
					return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{nodeRaw(3, 0, "3.")}}, nil
				}
			}
			return &dynamodb.QueryOutput{}, nil
		},
	}
	s := newTestStore(api, cfg)

	roots, err := s.Query(context.Background(), tree.Roots())
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, int64(3), roots[0].ID)
	assert.Equal(t, int64(9), roots[1].ID)

	require.Len(t, api.queries, 4)
	for _, in := range api.queries {
		assert.Contains(t, aws.ToString(in.FilterExpression), "attribute_not_exists")
		assert.True(t, hasName(in.ExpressionAttributeNames, "parent_id"))
		assert.NotContains(t, aws.ToString(in.KeyConditionExpression), "begins_with")
	}
}

func TestQuery_FanOutError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumShards = 3
	boom := errors.New("boom")
	api := &fakeAPI{
		query: func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			return nil, boom
		},
	}
	s := newTestStore(api, cfg)

	_, err := s.Query(context.Background(), tree.Forest(nil))
	assert.ErrorIs(t, err, boom)
}

func TestQuery_IDs(t *testing.T) {
	deleted := nodeRaw(3, 2, "1.2.3.")
	deleted["ttl"] = &types.AttributeValueMemberN{Value: "1"}

	calls := 0
	api := &fakeAPI{
		batchGet: func(in *dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error) {
			calls++
			if calls == 1 {
				return &dynamodb.BatchGetItemOutput{
					Responses: map[string][]map[string]types.AttributeValue{
						"canopy_nodes": {nodeRaw(2, 1, "1.2."), deleted},
					},
					UnprocessedKeys: map[string]types.KeysAndAttributes{
						"canopy_nodes": {Keys: []map[string]types.AttributeValue{NodeKey(1)}},
					},
				}, nil
			}
			return &dynamodb.BatchGetItemOutput{
				Responses: map[string][]map[string]types.AttributeValue{
					"canopy_nodes": {nodeRaw(1, 0, "1.")},
				},
			}, nil
		},
	}
	s := newTestStore(api, DefaultConfig())

	nodes, err := s.Query(context.Background(), tree.Predicate{Kind: tree.KindIDs, IDs: []int64{1, 2, 3}})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, int64(1), nodes[0].ID)
	assert.Equal(t, int64(2), nodes[1].ID)

	require.Len(t, api.batches, 2)
	assert.Len(t, api.batches[0].RequestItems["canopy_nodes"].Keys, 3)
	assert.Len(t, api.batches[1].RequestItems["canopy_nodes"].Keys, 1)
}

func TestQuery_IDsChunked(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(api, DefaultConfig())

	ids := make([]int64, 250)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	_, err := s.Query(context.Background(), tree.Predicate{Kind: tree.KindIDs, IDs: ids})
	require.NoError(t, err)

	require.Len(t, api.batches, 3)
	assert.Len(t, api.batches[0].RequestItems["canopy_nodes"].Keys, 100)
	assert.Len(t, api.batches[2].RequestItems["canopy_nodes"].Keys, 50)
}

// --- ApplyPaths ---

func moveUpdates() []tree.PathUpdate {
	return []tree.PathUpdate{
		{ID: 2, OldPath: "1.2.", NewPath: "5.2.", SetParent: true, ParentID: tree.ParentIDOf(5)},
		{ID: 3, OldPath: "1.2.3.", NewPath: "5.2.3."},
		{ID: 4, OldPath: "1.2.4.", NewPath: "5.2.4."},
	}
}

func TestApplyPaths(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(api, DefaultConfig())

	skipped, err := s.ApplyPaths(context.Background(), moveUpdates())
	require.NoError(t, err)
	assert.Empty(t, skipped)

	require.Len(t, api.transacts, 1)
	items := api.transacts[0].TransactItems
	require.Len(t, items, 3)

	moved := items[0].Update
	require.NotNil(t, moved)
	assert.Equal(t, "2", moved.Key["id"].(*types.AttributeValueMemberN).Value)
	assert.True(t, hasName(moved.ExpressionAttributeNames, "parent_id"))
	assert.True(t, hasValue(moved.ExpressionAttributeValues, &types.AttributeValueMemberS{Value: "5.2."}))
	assert.True(t, hasValue(moved.ExpressionAttributeValues, &types.AttributeValueMemberS{Value: "1.2."}))
	assert.True(t, hasValue(moved.ExpressionAttributeValues, &types.AttributeValueMemberN{Value: "5"}))
	assert.Equal(t, types.ReturnValuesOnConditionCheckFailureAllOld, moved.ReturnValuesOnConditionCheckFailure)

	desc := items[2].Update
	assert.False(t, hasName(desc.ExpressionAttributeNames, "parent_id"))
	assert.True(t, hasValue(desc.ExpressionAttributeValues, &types.AttributeValueMemberN{Value: "2"}))
}

func TestApplyPaths_MoveToRootRemovesParent(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(api, DefaultConfig())

	_, err := s.ApplyPaths(context.Background(), []tree.PathUpdate{
		{ID: 2, OldPath: "1.2.", NewPath: "2.", SetParent: true},
	})
	require.NoError(t, err)

	update := api.transacts[0].TransactItems[0].Update
	assert.Contains(t, aws.ToString(update.UpdateExpression), "REMOVE")
	assert.True(t, hasName(update.ExpressionAttributeNames, "parent_id"))
}

func TestApplyPaths_TooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTransactItems = 2
	api := &fakeAPI{}
	s := newTestStore(api, cfg)

	_, err := s.ApplyPaths(context.Background(), moveUpdates())
	assert.ErrorIs(t, err, ErrTransactionTooLarge)
	assert.Empty(t, api.transacts)
}

func TestApplyPaths_SkipsVanishedRows(t *testing.T) {
	api := &fakeAPI{}
	api.transact = func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
		if len(api.transacts) == 1 {
			return nil, cancelled("None", "ConditionalCheckFailed", "None")
		}
		return &dynamodb.TransactWriteItemsOutput{}, nil
	}
	s := newTestStore(api, DefaultConfig())

	skipped, err := s.ApplyPaths(context.Background(), moveUpdates())
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, skipped)

	require.Len(t, api.transacts, 2)
	assert.Len(t, api.transacts[1].TransactItems, 2)
	assert.NotEqual(t, aws.ToString(api.transacts[0].ClientRequestToken), aws.ToString(api.transacts[1].ClientRequestToken))
}

func TestApplyPaths_DeletedRowIsSkipped(t *testing.T) {
	api := &fakeAPI{}
	api.transact = func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
		if len(api.transacts) == 1 {
			deleted := nodeRaw(4, 2, "1.2.4.")
			deleted["ttl"] = &types.AttributeValueMemberN{Value: "1"}
			code := "ConditionalCheckFailed"
			none := "None"
			return nil, &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
				{Code: &none}, {Code: &none}, {Code: &code, Item: deleted},
			}}
		}
		return &dynamodb.TransactWriteItemsOutput{}, nil
	}
	s := newTestStore(api, DefaultConfig())

	skipped, err := s.ApplyPaths(context.Background(), moveUpdates())
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, skipped)
}

func TestApplyPaths_ConcurrentModification(t *testing.T) {
	api := &fakeAPI{
		transact: func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			code := "ConditionalCheckFailed"
			none := "None"
			return nil, &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
				{Code: &none}, {Code: &code, Item: nodeRaw(3, 2, "9.2.3.")}, {Code: &none},
			}}
		},
	}
	s := newTestStore(api, DefaultConfig())

	_, err := s.ApplyPaths(context.Background(), moveUpdates())
	assert.ErrorIs(t, err, tree.ErrConcurrentModification)
	assert.Len(t, api.transacts, 1)
}

func TestApplyPaths_OtherCancellationIsReturned(t *testing.T) {
	api := &fakeAPI{
		transact: func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			return nil, cancelled("TransactionConflict", "None", "None")
		},
	}
	s := newTestStore(api, DefaultConfig())

	_, err := s.ApplyPaths(context.Background(), moveUpdates())
	var txErr *types.TransactionCanceledException
	assert.True(t, errors.As(err, &txErr))
	assert.Len(t, api.transacts, 1)
}

// --- UpdateFields ---

func TestUpdateFields(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(api, DefaultConfig())

	err := s.UpdateFields(context.Background(), tree.Node{ID: 2, Name: "renamed", Version: 3})
	require.NoError(t, err)

	in := api.updates[0]
	assert.True(t, hasValue(in.ExpressionAttributeValues, &types.AttributeValueMemberS{Value: "renamed"}))
	assert.True(t, hasValue(in.ExpressionAttributeValues, &types.AttributeValueMemberN{Value: "3"}))
	assert.Contains(t, aws.ToString(in.UpdateExpression), "REMOVE")
	assert.True(t, hasName(in.ExpressionAttributeNames, "attrs"))
}

func TestUpdateFields_ConditionFailure(t *testing.T) {
	tests := []struct {
		name     string
		item     map[string]types.AttributeValue
		expected error
	}{
		{"missing row", nil, tree.ErrNotFound},
		{"version mismatch", nodeRaw(2, 1, "1.2."), tree.ErrConcurrentModification},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{
				updateItem: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
					return nil, &types.ConditionalCheckFailedException{Item: tt.item}
				},
			}
			s := newTestStore(api, DefaultConfig())

			err := s.UpdateFields(context.Background(), tree.Node{ID: 2, Name: "x", Version: 1})
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

// --- Delete / TTL ---

func TestDelete_SetsTTL(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(api, DefaultConfig())

	require.NoError(t, s.Delete(context.Background(), []int64{2, 3}))
	require.Len(t, api.updates, 2)
	for _, in := range api.updates {
		assert.True(t, hasName(in.ExpressionAttributeNames, "ttl"))
		assert.True(t, hasValue(in.ExpressionAttributeValues, &types.AttributeValueMemberN{Value: "1700000000"}))
	}
}

func TestSetTTLByKey_IgnoresConditionFailure(t *testing.T) {
	api := &fakeAPI{
		updateItem: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		},
	}
	s := newTestStore(api, DefaultConfig())

	assert.NoError(t, s.SetTTLByKey(context.Background(), 2, 42))
}

func TestSetSubtreeTTL(t *testing.T) {
	api := &fakeAPI{
		query: func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
				nodeRaw(2, 1, "1.2."),
				nodeRaw(3, 2, "1.2.3."),
			}}, nil
		},
	}
	s := newTestStore(api, DefaultConfig())

	count, err := s.SetSubtreeTTL(context.Background(), "1.2.", 99)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Already-deleted rows are visited too, so no TTL filter is applied.
	require.Len(t, api.queries, 1)
	assert.Nil(t, api.queries[0].FilterExpression)
	assert.Len(t, api.updates, 2)
}

func TestSetSubtreeTTL_MalformedPath(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(api, DefaultConfig())

	_, err := s.SetSubtreeTTL(context.Background(), "1.2", 99)
	assert.Error(t, err)
	assert.Empty(t, api.queries)
}

// --- marshal / unmarshal ---

func TestMarshalNode_Partition(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TreeName = "categories"
	cfg.NumShards = 8
	s := newTestStore(&fakeAPI{}, cfg)

	a, err := s.marshalNode(tree.Node{ID: 3, Path: "7.3."}, "now")
	require.NoError(t, err)
	b, err := s.marshalNode(tree.Node{ID: 7, Path: "7."}, "now")
	require.NoError(t, err)

	pa := a["partition"].(*types.AttributeValueMemberS).Value
	pb := b["partition"].(*types.AttributeValueMemberS).Value
	assert.Equal(t, pa, pb, "a tree must live in one partition")
	assert.True(t, strings.HasPrefix(pa, "categories#"))
}

func TestUnmarshalNode_Minimal(t *testing.T) {
	n, err := unmarshalNode(map[string]types.AttributeValue{
		"id":   &types.AttributeValueMemberN{Value: "5"},
		"path": &types.AttributeValueMemberS{Value: "5."},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), n.ID)
	assert.Nil(t, n.ParentID)
	assert.Nil(t, n.Attrs)
	assert.True(t, n.IsRoot())
}

func TestUnmarshalNode_WrongType(t *testing.T) {
	_, err := unmarshalNode(map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: "not-a-number"},
	})
	assert.Error(t, err)
}

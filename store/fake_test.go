package store

import (
	"context"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeAPI records every call and answers through optional hooks.
type fakeAPI struct {
	getItem    func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	updateItem func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	query      func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	batchGet   func(*dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error)
	transact   func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error)

	mu        sync.Mutex
	gets      []*dynamodb.GetItemInput
	updates   []*dynamodb.UpdateItemInput
	queries   []*dynamodb.QueryInput
	batches   []*dynamodb.BatchGetItemInput
	transacts []*dynamodb.TransactWriteItemsInput
}

func (f *fakeAPI) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	f.gets = append(f.gets, in)
	f.mu.Unlock()
	if f.getItem == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return f.getItem(in)
}

func (f *fakeAPI) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	f.updates = append(f.updates, in)
	f.mu.Unlock()
	if f.updateItem == nil {
		return &dynamodb.UpdateItemOutput{}, nil
	}
	return f.updateItem(in)
}

func (f *fakeAPI) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	f.queries = append(f.queries, in)
	f.mu.Unlock()
	if f.query == nil {
		return &dynamodb.QueryOutput{}, nil
	}
	return f.query(in)
}

func (f *fakeAPI) BatchGetItem(_ context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.mu.Lock()
	f.batches = append(f.batches, in)
	f.mu.Unlock()
	if f.batchGet == nil {
		return &dynamodb.BatchGetItemOutput{}, nil
	}
	return f.batchGet(in)
}

func (f *fakeAPI) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	f.transacts = append(f.transacts, in)
	f.mu.Unlock()
	if f.transact == nil {
		return &dynamodb.TransactWriteItemsOutput{}, nil
	}
	return f.transact(in)
}

// nodeRaw builds a stored node item the way DynamoDB returns it.
func nodeRaw(id int64, parentID int64, path string) map[string]types.AttributeValue {
	raw := map[string]types.AttributeValue{
		"id":        &types.AttributeValueMemberN{Value: itoa(id)},
		"path":      &types.AttributeValueMemberS{Value: path},
		"partition": &types.AttributeValueMemberS{Value: "canopy#00"},
		"name":      &types.AttributeValueMemberS{Value: "n" + itoa(id)},
		"version":   &types.AttributeValueMemberN{Value: "1"},
	}
	if parentID > 0 {
		raw["parent_id"] = &types.AttributeValueMemberN{Value: itoa(parentID)}
	}
	return raw
}

func cancelled(codes ...string) error {
	reasons := make([]types.CancellationReason, len(codes))
	for i, c := range codes {
		code := c
		reasons[i] = types.CancellationReason{Code: &code}
	}
	return &types.TransactionCanceledException{CancellationReasons: reasons}
}

// hasValue reports whether an expression value map holds want.
func hasValue(values map[string]types.AttributeValue, want types.AttributeValue) bool {
	for _, v := range values {
		switch w := want.(type) {
		case *types.AttributeValueMemberS:
			if got, ok := v.(*types.AttributeValueMemberS); ok && got.Value == w.Value {
				return true
			}
		case *types.AttributeValueMemberN:
			if got, ok := v.(*types.AttributeValueMemberN); ok && got.Value == w.Value {
				return true
			}
		}
	}
	return false
}

// hasName reports whether an expression name map references attr.
func hasName(names map[string]string, attr string) bool {
	for _, v := range names {
		if v == attr {
			return true
		}
	}
	return false
}

func itoa(i int64) string {
	return strconv.FormatInt(i, 10)
}

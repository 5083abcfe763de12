package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/canopy/internal/shard"
	"github.com/jacentio/canopy/mpath"
	"github.com/jacentio/canopy/tree"
)

// batchGetLimit is the DynamoDB cap on keys per BatchGetItem call.
const batchGetLimit = 100

// Store is a tree.Backend over a single DynamoDB table.
type Store struct {
	client API
	config Config
	now    func() time.Time
}

var _ tree.Backend = (*Store)(nil)

// New creates a new Store instance.
func New(client API, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
		now:    time.Now,
	}
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// NextID atomically increments the sequence row and returns the new value.
func (s *Store) NextID(ctx context.Context) (int64, error) {
	update := expression.Add(expression.Name("next_id"), expression.Value(1))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return 0, fmt.Errorf("build sequence expression: %w", err)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.NodeTable),
		Key:                       NodeKey(sequenceID),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("next id: %w", err)
	}

	v, ok := out.Attributes["next_id"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, ErrSequenceUnavailable
	}
	id, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSequenceUnavailable, err)
	}
	return id, nil
}

// Insert writes a new node together with a parent check in one
// transaction. The parent must be live and still sit at the path the
// node's own path was built from, so an insert racing a reparent of its
// parent fails instead of landing under the old prefix.
func (s *Store) Insert(ctx context.Context, n tree.Node) error {
	now := s.now()
	items := []types.TransactWriteItem{}

	// Track item indices for error mapping
	parentCheckIndex := -1
	nodePutIndex := -1

	if n.ParentID != nil {
		parentPath, err := mpath.Parent(n.Path)
		if err != nil {
			return err
		}
		cond := expression.And(ParentExists(now.Unix()), expression.Name("path").Equal(expression.Value(parentPath)))
		expr, err := expression.NewBuilder().WithCondition(cond).Build()
		if err != nil {
			return fmt.Errorf("build parent check: %w", err)
		}
		parentCheckIndex = len(items)
		items = append(items, types.TransactWriteItem{
			ConditionCheck: &types.ConditionCheck{
				TableName:                           aws.String(s.config.NodeTable),
				Key:                                 NodeKey(*n.ParentID),
				ConditionExpression:                 expr.Condition(),
				ExpressionAttributeNames:            expr.Names(),
				ExpressionAttributeValues:           expr.Values(),
				ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
			},
		})
	}

	item, err := s.marshalNode(n, now.UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}
	expr, err := expression.NewBuilder().WithCondition(expression.Name("id").AttributeNotExists()).Build()
	if err != nil {
		return fmt.Errorf("build put condition: %w", err)
	}
	nodePutIndex = len(items)
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:                aws.String(s.config.NodeTable),
			Item:                     item,
			ConditionExpression:      expr.Condition(),
			ExpressionAttributeNames: expr.Names(),
		},
	})

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems:      items,
		ClientRequestToken: aws.String(uuid.NewString()),
	})

	return s.mapInsertTransactionError(err, now.Unix(), parentCheckIndex, nodePutIndex)
}

// UpdateFields updates name and attrs with optimistic locking.
func (s *Store) UpdateFields(ctx context.Context, n tree.Node) error {
	now := s.now()

	update := expression.Set(expression.Name("name"), expression.Value(n.Name)).
		Set(expression.Name("updated_at"), expression.Value(now.UTC().Format(time.RFC3339))).
		Add(expression.Name("version"), expression.Value(1))
	if len(n.Attrs) > 0 {
		update = update.Set(expression.Name("attrs"), expression.Value(n.Attrs))
	} else {
		update = update.Remove(expression.Name("attrs"))
	}
	cond := expression.And(
		expression.Name("version").Equal(expression.Value(n.Version)),
		NotDeleted(now.Unix()),
	)

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("build update expression: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(s.config.NodeTable),
		Key:                                 NodeKey(n.ID),
		UpdateExpression:                    expr.Update(),
		ConditionExpression:                 expr.Condition(),
		ExpressionAttributeNames:            expr.Names(),
		ExpressionAttributeValues:           expr.Values(),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			if condErr.Item == nil || isDeletedAt(condErr.Item, now.Unix()) {
				return tree.ErrNotFound
			}
			return tree.ErrConcurrentModification
		}
		return err
	}
	return nil
}

// Get retrieves a node by id, returning tree.ErrNotFound if deleted or missing.
func (s *Store) Get(ctx context.Context, id int64) (tree.Node, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.NodeTable),
		Key:            NodeKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return tree.Node{}, err
	}
	if result.Item == nil || id == sequenceID {
		return tree.Node{}, tree.ErrNotFound
	}

	// Check if node is deleted (has expired TTL)
	if isDeletedAt(result.Item, s.now().Unix()) {
		return tree.Node{}, tree.ErrNotFound
	}

	return unmarshalNode(result.Item)
}

// Query returns live nodes matching p in ascending id order.
func (s *Store) Query(ctx context.Context, p tree.Predicate) ([]tree.Node, error) {
	var (
		nodes []tree.Node
		err   error
	)
	switch p.Kind {
	case tree.KindIDs:
		nodes, err = s.batchGet(ctx, p.IDs)
	case tree.KindPathPrefix:
		nodes, err = s.queryPrefix(ctx, p, false)
	case tree.KindRoots, tree.KindAll:
		nodes, err = s.queryPartitions(ctx, p)
	default:
		return nil, fmt.Errorf("canopy: unsupported predicate %s", p)
	}
	if err != nil {
		return nil, err
	}

	// The index is eventually consistent and filters run server side; keep
	// only rows that still satisfy the predicate as decoded.
	out := nodes[:0]
	for _, n := range nodes {
		if p.Matches(n) {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b tree.Node) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// buildQuery translates a predicate into a query against one index partition.
func (s *Store) buildQuery(partition string, p tree.Predicate, includeDeleted bool) (*dynamodb.QueryInput, error) {
	key := expression.Key("partition").Equal(expression.Value(partition))
	if p.Kind == tree.KindPathPrefix {
		key = key.And(expression.Key("path").BeginsWith(p.PathPrefix))
	}

	var filters []expression.ConditionBuilder
	if !includeDeleted {
		filters = append(filters, NotDeleted(s.now().Unix()))
	}
	if p.Kind == tree.KindRoots {
		filters = append(filters, expression.Name("parent_id").AttributeNotExists())
	}
	if p.MaxDepth != nil {
		filters = append(filters, expression.Name("depth").LessThanEqual(expression.Value(*p.MaxDepth)))
	}

	builder := expression.NewBuilder().WithKeyCondition(key)
	switch len(filters) {
	case 0:
	case 1:
		builder = builder.WithFilter(filters[0])
	default:
		builder = builder.WithFilter(expression.And(filters[0], filters[1], filters[2:]...))
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build query expression: %w", err)
	}

	return &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.NodeTable),
		IndexName:                 aws.String(s.config.PathIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, nil
}

// queryPages runs a query through every page.
func (s *Store) queryPages(ctx context.Context, input *dynamodb.QueryInput) ([]tree.Node, error) {
	var nodes []tree.Node
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			n, err := unmarshalNode(raw)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

// queryPrefix reads a subtree from the single partition holding its tree.
func (s *Store) queryPrefix(ctx context.Context, p tree.Predicate, includeDeleted bool) ([]tree.Node, error) {
	partition, err := s.partitionFor(p.PathPrefix)
	if err != nil {
		return nil, err
	}
	input, err := s.buildQuery(partition, p, includeDeleted)
	if err != nil {
		return nil, err
	}
	return s.queryPages(ctx, input)
}

// queryPartitions runs p against every index partition.
func (s *Store) queryPartitions(ctx context.Context, p tree.Predicate) ([]tree.Node, error) {
	partitions := shard.Partitions(s.config.TreeName, s.config.NumShards)

	// Fast path for single shard (default)
	if len(partitions) == 1 {
		input, err := s.buildQuery(partitions[0], p, false)
		if err != nil {
			return nil, err
		}
		return s.queryPages(ctx, input)
	}

	// Multi-shard fan-out
	var mu sync.Mutex
	var all []tree.Node
	var wg sync.WaitGroup
	errs := make(chan error, len(partitions))

	for _, partition := range partitions {
		wg.Add(1)
		go func(partition string) {
			defer wg.Done()

			input, err := s.buildQuery(partition, p, false)
			if err != nil {
				errs <- err
				return
			}
			nodes, err := s.queryPages(ctx, input)
			if err != nil {
				errs <- fmt.Errorf("partition %s: %w", partition, err)
				return
			}

			mu.Lock()
			all = append(all, nodes...)
			mu.Unlock()
		}(partition)
	}

	go func() {
		wg.Wait()
		close(errs)
	}()

	for err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return all, nil
}

// batchGet loads nodes by id, 100 keys per call, retrying unprocessed keys.
func (s *Store) batchGet(ctx context.Context, ids []int64) ([]tree.Node, error) {
	now := s.now().Unix()
	var nodes []tree.Node

	for chunk := range slices.Chunk(ids, batchGetLimit) {
		keys := make([]map[string]types.AttributeValue, 0, len(chunk))
		for _, id := range chunk {
			keys = append(keys, NodeKey(id))
		}

		request := map[string]types.KeysAndAttributes{
			s.config.NodeTable: {Keys: keys, ConsistentRead: aws.Bool(true)},
		}
		for len(request) > 0 {
			out, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return nil, err
			}
			for _, raw := range out.Responses[s.config.NodeTable] {
				if isDeletedAt(raw, now) {
					continue
				}
				n, err := unmarshalNode(raw)
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, n)
			}
			request = out.UnprocessedKeys
		}
	}

	return nodes, nil
}

// ApplyPaths rewrites node paths in one transaction. Every update is
// conditioned on the row still having its old path. Rows found missing or
// deleted when the transaction is cancelled are dropped and the rest is
// resubmitted.
func (s *Store) ApplyPaths(ctx context.Context, updates []tree.PathUpdate) ([]int64, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	if len(updates) > s.config.MaxTransactItems {
		return nil, fmt.Errorf("%w: %d rows, limit %d", ErrTransactionTooLarge, len(updates), s.config.MaxTransactItems)
	}

	var skipped []int64
	pending := updates
	for len(pending) > 0 {
		now := s.now()
		items := make([]types.TransactWriteItem, 0, len(pending))
		for _, u := range pending {
			item, err := s.pathUpdateItem(u, now)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}

		_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems:      items,
			ClientRequestToken: aws.String(uuid.NewString()),
		})
		if err == nil {
			return skipped, nil
		}

		var txErr *types.TransactionCanceledException
		if !errors.As(err, &txErr) {
			return nil, err
		}

		keep := make([]tree.PathUpdate, 0, len(pending))
		vanished := 0
		for i, u := range pending {
			if i >= len(txErr.CancellationReasons) {
				keep = append(keep, u)
				continue
			}
			reason := txErr.CancellationReasons[i]
			if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
				keep = append(keep, u)
				continue
			}
			if reason.Item == nil || isDeletedAt(reason.Item, now.Unix()) {
				skipped = append(skipped, u.ID)
				vanished++
				continue
			}
			return nil, fmt.Errorf("%w: node %d no longer at %q", tree.ErrConcurrentModification, u.ID, u.OldPath)
		}
		if vanished == 0 {
			return nil, err
		}
		pending = keep
	}

	return skipped, nil
}

// pathUpdateItem builds the conditional update moving one row.
func (s *Store) pathUpdateItem(u tree.PathUpdate, now time.Time) (types.TransactWriteItem, error) {
	partition, err := s.partitionFor(u.NewPath)
	if err != nil {
		return types.TransactWriteItem{}, err
	}

	update := expression.Set(expression.Name("path"), expression.Value(u.NewPath)).
		Set(expression.Name("depth"), expression.Value(mpath.Depth(u.NewPath))).
		Set(expression.Name("partition"), expression.Value(partition)).
		Set(expression.Name("updated_at"), expression.Value(now.UTC().Format(time.RFC3339))).
		Add(expression.Name("version"), expression.Value(1))
	if u.SetParent {
		if u.ParentID != nil {
			update = update.Set(expression.Name("parent_id"), expression.Value(*u.ParentID))
		} else {
			update = update.Remove(expression.Name("parent_id"))
		}
	}
	cond := expression.And(
		expression.Name("path").Equal(expression.Value(u.OldPath)),
		NotDeleted(now.Unix()),
	)

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("build path update for %d: %w", u.ID, err)
	}

	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                           aws.String(s.config.NodeTable),
			Key:                                 NodeKey(u.ID),
			UpdateExpression:                    expr.Update(),
			ConditionExpression:                 expr.Condition(),
			ExpressionAttributeNames:            expr.Names(),
			ExpressionAttributeValues:           expr.Values(),
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}, nil
}

// Delete marks nodes for deletion by setting their TTL to now.
func (s *Store) Delete(ctx context.Context, ids []int64) error {
	ttl := s.now().Unix()
	for _, id := range ids {
		if err := s.SetTTLByKey(ctx, id, ttl); err != nil {
			return fmt.Errorf("delete %d: %w", id, err)
		}
	}
	return nil
}

// SetTTLByKey sets TTL on a node by id.
// This also increments the version to fail concurrent updates.
func (s *Store) SetTTLByKey(ctx context.Context, id int64, ttl int64) error {
	update := expression.Set(expression.Name(ttlAttr), expression.Value(ttl)).
		Add(expression.Name("version"), expression.Value(1))
	cond := expression.And(
		expression.Name("id").AttributeExists(),
		expression.Name(ttlAttr).AttributeNotExists(),
	)
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("build ttl expression: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.NodeTable),
		Key:                       NodeKey(id),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	// Ignore condition failure - missing or already has TTL
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// SetSubtreeTTL sets ttl on every node under path, the node at path
// included. Nodes that already carry a TTL keep it, so the call is
// idempotent. It returns the number of nodes visited.
func (s *Store) SetSubtreeTTL(ctx context.Context, path string, ttl int64) (int, error) {
	if _, err := mpath.IDs(path); err != nil {
		return 0, err
	}
	nodes, err := s.queryPrefix(ctx, tree.Predicate{Kind: tree.KindPathPrefix, PathPrefix: path}, true)
	if err != nil {
		return 0, fmt.Errorf("query subtree %q: %w", path, err)
	}
	for _, n := range nodes {
		if err := s.SetTTLByKey(ctx, n.ID, ttl); err != nil {
			return 0, fmt.Errorf("set ttl on %d: %w", n.ID, err)
		}
	}
	return len(nodes), nil
}

// mapInsertTransactionError maps DynamoDB transaction errors for Insert.
// parentCheckIndex is the index of the parent check item (-1 if none).
// nodePutIndex is the index of the node put item.
func (s *Store) mapInsertTransactionError(err error, now int64, parentCheckIndex, nodePutIndex int) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
				continue
			}
			switch i {
			case parentCheckIndex:
				// A live parent that failed the check has moved.
				if reason.Item == nil || isDeletedAt(reason.Item, now) {
					return tree.ErrParentNotFound
				}
				return fmt.Errorf("%w: parent moved", tree.ErrConcurrentModification)
			case nodePutIndex:
				return tree.ErrAlreadyExists
			}
		}
	}

	return err
}

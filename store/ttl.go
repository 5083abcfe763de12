package store

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ttlAttr is the table's TTL attribute. A row is soft deleted once its
// value is at or before the current unix time.
const ttlAttr = "ttl"

// IsDeleted reports whether a raw item carries an expired TTL.
func IsDeleted(item map[string]types.AttributeValue) bool {
	return isDeletedAt(item, time.Now().Unix())
}

func isDeletedAt(item map[string]types.AttributeValue, now int64) bool {
	av, ok := item[ttlAttr]
	if !ok {
		return false
	}
	var ttl int64
	if err := attributevalue.Unmarshal(av, &ttl); err != nil {
		return false
	}
	return ttl <= now
}

// NotDeleted matches rows without a TTL or with one still in the future.
func NotDeleted(now int64) expression.ConditionBuilder {
	ttl := expression.Name(ttlAttr)
	return expression.Or(ttl.AttributeNotExists(), ttl.GreaterThan(expression.Value(now)))
}

// ParentExists is the condition put on a parent row when a child is written
// under it.
func ParentExists(now int64) expression.ConditionBuilder {
	return expression.And(expression.Name("id").AttributeExists(), NotDeleted(now))
}

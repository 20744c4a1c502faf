package store

import (
	"maps"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ttlAttr holds the epoch second at which an item counts as deleted.
const ttlAttr = "ttl"

// IsDeleted reports whether item is soft-deleted: its ttl is at or before now.
// Items stay hidden from then on even though DynamoDB removes them later.
func IsDeleted(item map[string]types.AttributeValue) bool {
	return expiredAt(item, time.Now().Unix())
}

func expiredAt(item map[string]types.AttributeValue, now int64) bool {
	n, ok := item[ttlAttr].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(n.Value, 10, 64)
	return err == nil && ttl <= now
}

// TTLFilterExpr keeps live items in a query or scan. It uses the #ttl name
// from TTLFilterNames and a :now value holding the current unix time.
func TTLFilterExpr() string {
	return "attribute_not_exists(#ttl) OR #ttl > :now"
}

// TTLFilterNames returns the placeholder names TTLFilterExpr refers to.
func TTLFilterNames() map[string]string {
	return map[string]string{"#ttl": ttlAttr}
}

// ExistsCondition holds for an item that exists and is not soft-deleted.
func ExistsCondition() string {
	return "attribute_exists(id) AND (attribute_not_exists(#ttl) OR #ttl > :now)"
}

// UniqueFreeCondition holds for a unique constraint record that is absent or released.
func UniqueFreeCondition() string {
	return "attribute_not_exists(pk) OR #ttl <= :now"
}

func unixValue(t time.Time) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}

// mergeExpr combines placeholder maps; later maps win on key clashes.
func mergeExpr[V any](ms ...map[string]V) map[string]V {
	out := make(map[string]V)
	for _, m := range ms {
		maps.Copy(out, m)
	}
	return out
}

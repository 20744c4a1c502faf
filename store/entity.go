package store

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// PK is a DynamoDB primary key.
type PK map[string]types.AttributeValue

// Entity is anything the Store can write: a row in one table with a typed reference.
type Entity interface {
	TableName() string
	GetKey() PK

	// EntityRef is "<type>#<id>", e.g. "place#1f0c...". The stream handler
	// reads the type back from it.
	EntityRef() string
	EntityType() string
}

// UniqueFielder is implemented by entities whose fields must not repeat.
// Each field is reserved by its own record in the unique constraint table.
type UniqueFielder interface {
	// UniqueScope bounds the uniqueness; GlobalScope spans the whole table.
	UniqueScope() string

	// UniqueFields maps field name to the normalized value to reserve.
	UniqueFields() map[string]string
}

// GlobalScope reserves a value across every entity of its type.
const GlobalScope = "global"

// ConditionCheck asserts something about an item that the transaction does not write.
type ConditionCheck struct {
	TableName string
	Key       PK

	// ConditionExpr defaults to ExistsCondition. It may use #ttl and :now.
	ConditionExpr string
}

// Item is a stored entity with its managed fields decoded.
type Item struct {
	Raw       map[string]types.AttributeValue
	Version   int64
	CreatedAt string // RFC 3339
	UpdatedAt string // RFC 3339
	EntityRef string

	// UniquePKs are the constraint records reserved for this entity.
	UniquePKs []string
}

// QueryInput describes a Query. Soft-deleted items are always filtered out.
type QueryInput struct {
	TableName              string
	IndexName              string
	KeyConditionExpression string

	// FilterExpression is ANDed with the TTL filter.
	FilterExpression          string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]types.AttributeValue

	// Limit caps each page; zero means no cap. All pages are always read.
	Limit            int32
	ScanIndexForward *bool
}

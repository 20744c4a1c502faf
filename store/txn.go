package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/chandank04/your-places-backend/internal/shard"
)

const uniqueLabelPrefix = "unique:"

// maxTxnItems is the DynamoDB limit on items in one TransactWriteItems call.
const maxTxnItems = 100

// ErrTxnTooLarge is returned by Commit when more than 100 items were queued.
var ErrTxnTooLarge = errors.New("store: transaction exceeds 100 items")

// Txn collects writes that must commit atomically.
// Every item carries a label so a failed condition can be traced back to it.
// A Txn holds no server-side resources; dropping it without Commit discards it.
type Txn struct {
	s      *Store
	items  []types.TransactWriteItem
	labels []string
	now    time.Time
}

// Begin starts a new transaction.
func (s *Store) Begin() *Txn {
	return &Txn{s: s, now: s.now()}
}

// Len returns the number of queued items.
func (t *Txn) Len() int {
	return len(t.items)
}

// Labels returns the labels of the queued items in order.
func (t *Txn) Labels() []string {
	return append([]string(nil), t.labels...)
}

func (t *Txn) add(label string, item types.TransactWriteItem) {
	t.items = append(t.items, item)
	t.labels = append(t.labels, label)
}

func (t *Txn) nowValue() *types.AttributeValueMemberN {
	return unixValue(t.now)
}

// Check adds a condition check on another item.
func (t *Txn) Check(label string, check ConditionCheck) {
	condExpr := check.ConditionExpr
	if condExpr == "" {
		condExpr = ExistsCondition()
	}
	t.add(label, types.TransactWriteItem{
		ConditionCheck: &types.ConditionCheck{
			TableName:                 aws.String(check.TableName),
			Key:                       check.Key,
			ConditionExpression:       aws.String(condExpr),
			ExpressionAttributeNames:  map[string]string{"#ttl": "ttl"},
			ExpressionAttributeValues: map[string]types.AttributeValue{":now": t.nowValue()},
		},
	})
}

// PutNew adds the creation of entity. The put fails if an item with the same id exists.
// Managed fields are set on item; unique constraints are reserved when entity
// implements UniqueFielder, each labelled "unique:<field>".
func (t *Txn) PutNew(label string, entity Entity, item map[string]types.AttributeValue) {
	nowISO := t.now.UTC().Format(timeFormat)

	item["entity_ref"] = &types.AttributeValueMemberS{Value: entity.EntityRef()}
	item["version"] = &types.AttributeValueMemberN{Value: "1"}
	if _, ok := item["created_at"]; !ok {
		item["created_at"] = &types.AttributeValueMemberS{Value: nowISO}
	}
	if _, ok := item["updated_at"]; !ok {
		item["updated_at"] = &types.AttributeValueMemberS{Value: nowISO}
	}

	if uf, ok := entity.(UniqueFielder); ok {
		scope := uf.UniqueScope()
		entityType := entity.EntityType()

		var uniquePKs []string
		fields := uf.UniqueFields()
		for _, field := range slices.Sorted(maps.Keys(fields)) {
			value := fields[field]
			constraintPK := shard.UniqueConstraintPK(scope, entityType, field, value)
			uniquePKs = append(uniquePKs, constraintPK)

			t.add(uniqueLabelPrefix+field, types.TransactWriteItem{
				Put: &types.Put{
					TableName: aws.String(t.s.config.UniqueTable),
					Item: map[string]types.AttributeValue{
						"pk":          &types.AttributeValueMemberS{Value: constraintPK},
						"sk":          &types.AttributeValueMemberS{Value: "CONSTRAINT"},
						"scope_ref":   &types.AttributeValueMemberS{Value: scope},
						"entity_type": &types.AttributeValueMemberS{Value: entityType},
						"field_name":  &types.AttributeValueMemberS{Value: field},
						"field_value": &types.AttributeValueMemberS{Value: value},
						"entity_ref":  &types.AttributeValueMemberS{Value: entity.EntityRef()},
					},
					ConditionExpression:       aws.String(UniqueFreeCondition()),
					ExpressionAttributeNames:  map[string]string{"#ttl": "ttl"},
					ExpressionAttributeValues: map[string]types.AttributeValue{":now": t.nowValue()},
				},
			})
		}

		// Stored on the entity so cascade delete can release the constraints.
		if len(uniquePKs) > 0 {
			uniquePKsAttr, _ := attributevalue.MarshalList(uniquePKs)
			item["_unique_pks"] = &types.AttributeValueMemberL{Value: uniquePKsAttr}
		}
	}

	t.add(label, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(entity.TableName()),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		},
	})
}

// Update adds a versioned update of entity. The condition fails when the stored
// version differs from expectedVersion or the entity is soft-deleted.
func (t *Txn) Update(label string, entity Entity, item map[string]types.AttributeValue, expectedVersion int64) {
	upd := t.s.buildUpdate(item, expectedVersion)
	t.add(label, types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 aws.String(entity.TableName()),
			Key:                       entity.GetKey(),
			UpdateExpression:          aws.String(upd.expr),
			ConditionExpression:       aws.String(versionCondition),
			ExpressionAttributeNames:  upd.names,
			ExpressionAttributeValues: upd.values,
		},
	})
}

// Condition is an extra guard for Delete.
type Condition struct {
	Expr   string
	Names  map[string]string
	Values map[string]types.AttributeValue
}

// Delete adds a hard delete of entity. The item must exist; cond, when non-nil,
// is ANDed with the existence check.
func (t *Txn) Delete(label string, entity Entity, cond *Condition) {
	expr := "attribute_exists(id)"
	var names map[string]string
	var values map[string]types.AttributeValue
	if cond != nil && cond.Expr != "" {
		expr = fmt.Sprintf("%s AND (%s)", expr, cond.Expr)
		names = cond.Names
		values = cond.Values
	}
	t.add(label, types.TransactWriteItem{
		Delete: &types.Delete{
			TableName:                 aws.String(entity.TableName()),
			Key:                       entity.GetKey(),
			ConditionExpression:       aws.String(expr),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		},
	})
}

// Commit executes all queued items with one TransactWriteItems call.
// Either every item is applied or none is.
func (t *Txn) Commit(ctx context.Context) error {
	if len(t.items) == 0 {
		return nil
	}
	if len(t.items) > maxTxnItems {
		return ErrTxnTooLarge
	}

	_, err := call(t.s, func() (*dynamodb.TransactWriteItemsOutput, error) {
		return t.s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: t.items,
		})
	})

	return t.mapError(err)
}

// mapError maps DynamoDB transaction errors to store errors using item labels.
func (t *Txn) mapError(err error) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil {
				continue
			}
			switch *reason.Code {
			case "ConditionalCheckFailed":
				label := ""
				if i < len(t.labels) {
					label = t.labels[i]
				}
				if field, ok := strings.CutPrefix(label, uniqueLabelPrefix); ok {
					return fmt.Errorf("%w: %s", ErrDuplicateValue, field)
				}
				return &ConditionError{Label: label}
			case "TransactionConflict":
				return ErrTxConflict
			}
		}
	}

	var conflictErr *types.TransactionConflictException
	if errors.As(err, &conflictErr) {
		return ErrTxConflict
	}

	return err
}

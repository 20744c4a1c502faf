package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

// API is the subset of the DynamoDB client used by the Store.
// *dynamodb.Client satisfies it.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// timeFormat is the layout of created_at and updated_at.
const timeFormat = time.RFC3339Nano

// managedFields are maintained by the Store and never copied from caller items
// into update expressions.
var managedFields = map[string]bool{
	"id":          true,
	"entity_ref":  true,
	"version":     true,
	"created_at":  true,
	"updated_at":  true,
	"ttl":         true,
	"_unique_pks": true,
}

// Store provides DynamoDB operations with transactional multi-item support.
type Store struct {
	client   API
	config   Config
	registry *Registry
	logger   zerolog.Logger
	breaker  *gobreaker.CircuitBreaker[any]
	now      func() time.Time
}

// New returns a Store over client. Zero config fields take their defaults.
func New(client API, config Config) *Store {
	config.validate()
	s := &Store{
		client: client,
		config: config,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	s.breaker = newBreaker(config.Breaker, &s.logger)
	return s
}

// NewWithRegistry is New plus the relationships the stream handler cascades along.
func NewWithRegistry(client API, config Config, registry *Registry) *Store {
	s := New(client, config)
	s.registry = registry
	return s
}

// Registry returns the registry, which may be nil.
func (s *Store) Registry() *Registry {
	return s.registry
}

// SetLogger replaces the store logger.
func (s *Store) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// Create creates a new entity together with its unique constraints in one transaction.
func (s *Store) Create(ctx context.Context, entity Entity, item map[string]types.AttributeValue) error {
	txn := s.Begin()
	txn.PutNew(entity.EntityType(), entity, item)
	err := txn.Commit(ctx)

	var condErr *ConditionError
	if errors.As(err, &condErr) && condErr.Label == entity.EntityType() {
		return ErrAlreadyExists
	}
	return err
}

// Get reads an item with a consistent read. Missing and soft-deleted items
// both yield ErrNotFound.
func (s *Store) Get(ctx context.Context, table string, key PK) (*Item, error) {
	result, err := call(s, func() (*dynamodb.GetItemOutput, error) {
		return s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(table),
			Key:            key,
			ConsistentRead: aws.Bool(true),
		})
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	if IsDeleted(result.Item) {
		return nil, ErrNotFound
	}

	return s.unmarshalItem(result.Item), nil
}

// Query reads every page of a query, dropping soft-deleted items.
func (s *Store) Query(ctx context.Context, input QueryInput) ([]*Item, error) {
	filterExpr := TTLFilterExpr()
	if input.FilterExpression != "" {
		filterExpr = fmt.Sprintf("(%s) AND (%s)", input.FilterExpression, filterExpr)
	}

	queryInput := &dynamodb.QueryInput{
		TableName:                 aws.String(input.TableName),
		KeyConditionExpression:    aws.String(input.KeyConditionExpression),
		FilterExpression:          aws.String(filterExpr),
		ExpressionAttributeNames:  mergeExpr(TTLFilterNames(), input.ExpressionAttributeNames),
		ExpressionAttributeValues: mergeExpr(s.nowValues(), input.ExpressionAttributeValues),
	}

	if input.IndexName != "" {
		queryInput.IndexName = aws.String(input.IndexName)
	}
	if input.Limit > 0 {
		queryInput.Limit = aws.Int32(input.Limit)
	}
	if input.ScanIndexForward != nil {
		queryInput.ScanIndexForward = input.ScanIndexForward
	}

	var items []*Item
	paginator := dynamodb.NewQueryPaginator(s.client, queryInput)
	for paginator.HasMorePages() {
		page, err := call(s, func() (*dynamodb.QueryOutput, error) {
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			items = append(items, s.unmarshalItem(raw))
		}
	}

	return items, nil
}

// Delete soft-deletes an entity by setting its TTL.
// Children registered in the Registry are cascaded by the stream handler.
func (s *Store) Delete(ctx context.Context, entity Entity) error {
	return s.SetTTL(ctx, entity)
}

// SetTTL soft-deletes entity as of now. The version bump makes in-flight
// versioned writes to it fail.
func (s *Store) SetTTL(ctx context.Context, entity Entity) error {
	return s.SetTTLByKey(ctx, entity.TableName(), entity.GetKey(), s.now().Unix())
}

// SetTTLByKey soft-deletes the item at key with the given ttl. Items that are
// gone or already soft-deleted are left alone, so cascades can be replayed.
func (s *Store) SetTTLByKey(ctx context.Context, table string, key PK, ttl int64) error {
	_, err := call(s, func() (*dynamodb.UpdateItemOutput, error) {
		return s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(table),
			Key:                 key,
			UpdateExpression:    aws.String("SET #ttl = :ttl, #version = #version + :one"),
			ConditionExpression: aws.String("attribute_exists(id) AND attribute_not_exists(#ttl)"),
			ExpressionAttributeNames: map[string]string{
				"#ttl":     "ttl",
				"#version": "version",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":ttl": &types.AttributeValueMemberN{
					Value: strconv.FormatInt(ttl, 10),
				},
				":one": &types.AttributeValueMemberN{Value: "1"},
			},
		})
	})

	// Ignore condition failure - already has TTL or already gone
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// SetUniqueConstraintTTL releases the constraint record pk as of ttl.
func (s *Store) SetUniqueConstraintTTL(ctx context.Context, pk string, ttl int64) error {
	_, err := call(s, func() (*dynamodb.UpdateItemOutput, error) {
		return s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(s.config.UniqueTable),
			Key: map[string]types.AttributeValue{
				"pk": &types.AttributeValueMemberS{Value: pk},
				"sk": &types.AttributeValueMemberS{Value: "CONSTRAINT"},
			},
			UpdateExpression:    aws.String("SET #ttl = :ttl"),
			ConditionExpression: aws.String("attribute_exists(pk) AND attribute_not_exists(#ttl)"),
			ExpressionAttributeNames: map[string]string{
				"#ttl": "ttl",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":ttl": &types.AttributeValueMemberN{
					Value: strconv.FormatInt(ttl, 10),
				},
			},
		})
	})

	// Already released.
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

const versionCondition = "#version = :expected_version AND attribute_not_exists(#ttl)"

// updateExpr is a SET expression with its placeholder maps.
type updateExpr struct {
	expr   string
	names  map[string]string
	values map[string]types.AttributeValue
}

// buildUpdate turns caller attributes into a SET expression that also bumps the
// version and updated_at. Managed fields in item are skipped, except that a
// non-empty updated_at in item replaces the store clock.
func (s *Store) buildUpdate(item map[string]types.AttributeValue, expectedVersion int64) updateExpr {
	now := s.now().UTC().Format(timeFormat)
	if v, ok := item["updated_at"].(*types.AttributeValueMemberS); ok && v.Value != "" {
		now = v.Value
	}

	var setClauses []string
	exprNames := map[string]string{
		"#updated_at": "updated_at",
		"#version":    "version",
		"#ttl":        "ttl",
	}
	exprValues := map[string]types.AttributeValue{
		":updated_at":       &types.AttributeValueMemberS{Value: now},
		":one":              &types.AttributeValueMemberN{Value: "1"},
		":expected_version": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
	}

	// Sorted so the generated expression is stable across calls.
	i := 0
	for _, k := range slices.Sorted(maps.Keys(item)) {
		if managedFields[k] {
			continue
		}
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		exprNames[nameKey] = k
		exprValues[valueKey] = item[k]
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
		i++
	}

	setClauses = append(setClauses, "#updated_at = :updated_at", "#version = #version + :one")

	return updateExpr{
		expr:   "SET " + strings.Join(setClauses, ", "),
		names:  exprNames,
		values: exprValues,
	}
}

func (s *Store) nowValues() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{":now": unixValue(s.now())}
}

// unmarshalItem decodes the managed fields of raw.
func (s *Store) unmarshalItem(raw map[string]types.AttributeValue) *Item {
	item := &Item{Raw: raw}

	if v, ok := raw["version"].(*types.AttributeValueMemberN); ok {
		item.Version, _ = strconv.ParseInt(v.Value, 10, 64)
	}
	if v, ok := raw["created_at"].(*types.AttributeValueMemberS); ok {
		item.CreatedAt = v.Value
	}
	if v, ok := raw["updated_at"].(*types.AttributeValueMemberS); ok {
		item.UpdatedAt = v.Value
	}
	if v, ok := raw["entity_ref"].(*types.AttributeValueMemberS); ok {
		item.EntityRef = v.Value
	}
	if v, ok := raw["_unique_pks"]; ok {
		_ = attributevalue.Unmarshal(v, &item.UniquePKs)
	}

	return item
}

func stringAttr(v string) *types.AttributeValueMemberS {
	return &types.AttributeValueMemberS{Value: v}
}

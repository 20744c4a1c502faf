// Package dynamorepo implements places.Repository on DynamoDB through the store package.
//
// Users and places live in their own tables. Emails are reserved in the store's
// unique constraint table, and a global secondary index on creator_id serves
// PlacesByCreator. Removing a user is a soft delete; the stream handler
// cascades it to the user's places.
package dynamorepo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/chandank04/your-places-backend/internal/shard"
	"github.com/chandank04/your-places-backend/places"
	"github.com/chandank04/your-places-backend/store"
)

// Transaction item labels.
const (
	labelInsertPlace = "insert_place"
	labelSaveUser    = "save_user"
	labelDeletePlace = "delete_place"
	labelUpdatePlace = "update_place"
	labelCreatorLive = "creator_live"
)

// Config names the tables and index used by the repository.
type Config struct {
	// UsersTable holds user items keyed by id.
	// Default: "places_users"
	UsersTable string

	// PlacesTable holds place items keyed by id.
	// Default: "places_places"
	PlacesTable string

	// CreatorIndex is the GSI on places with creator_id as hash key.
	// Default: "creator_id-index"
	CreatorIndex string
}

// DefaultConfig returns the default table names.
func DefaultConfig() Config {
	return Config{
		UsersTable:   "places_users",
		PlacesTable:  "places_places",
		CreatorIndex: "creator_id-index",
	}
}

func (c *Config) validate() {
	def := DefaultConfig()
	if c.UsersTable == "" {
		c.UsersTable = def.UsersTable
	}
	if c.PlacesTable == "" {
		c.PlacesTable = def.PlacesTable
	}
	if c.CreatorIndex == "" {
		c.CreatorIndex = def.CreatorIndex
	}
}

// Registry declares the user to place back-reference for the cascade handler.
func (c Config) Registry() *store.Registry {
	r := store.NewRegistry()
	r.Register(store.Relationship{
		ParentType:     userEntityType,
		ChildType:      placeEntityType,
		ChildTableName: c.PlacesTable,
		BackRefAttr:    "places",
	})
	return r
}

// Repo is a places.Repository backed by DynamoDB.
type Repo struct {
	store *store.Store
	cfg   Config
	now   func() time.Time
}

var _ places.Repository = (*Repo)(nil)

// New returns a repository over s.
func New(s *store.Store, cfg Config) *Repo {
	cfg.validate()
	return &Repo{store: s, cfg: cfg, now: time.Now}
}

// Config returns the validated configuration.
func (r *Repo) Config() Config {
	return r.cfg
}

// User implements places.Repository.
func (r *Repo) User(ctx context.Context, id string) (*places.User, error) {
	item, err := r.store.Get(ctx, r.cfg.UsersTable, store.PK{"id": &types.AttributeValueMemberS{Value: id}})
	if err != nil {
		return nil, mapStoreError(err)
	}
	var rec userRecord
	if err := attributevalue.UnmarshalMap(item.Raw, &rec); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", id, err)
	}
	return rec.toUser(item.Version), nil
}

// Place implements places.Repository.
func (r *Repo) Place(ctx context.Context, id string) (*places.Place, error) {
	item, err := r.store.Get(ctx, r.cfg.PlacesTable, store.PK{"id": &types.AttributeValueMemberS{Value: id}})
	if err != nil {
		return nil, mapStoreError(err)
	}
	return decodePlace(item)
}

// PlacesByCreator implements places.Repository. Results are ordered by creation time.
func (r *Repo) PlacesByCreator(ctx context.Context, creatorID string) ([]*places.Place, error) {
	items, err := r.store.Query(ctx, store.QueryInput{
		TableName:              r.cfg.PlacesTable,
		IndexName:              r.cfg.CreatorIndex,
		KeyConditionExpression: "#creator = :creator",
		ExpressionAttributeNames: map[string]string{
			"#creator": "creator_id",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":creator": &types.AttributeValueMemberS{Value: creatorID},
		},
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	result := make([]*places.Place, 0, len(items))
	for _, item := range items {
		p, err := decodePlace(item)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	slices.SortStableFunc(result, func(a, b *places.Place) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

// UpdatePlace implements places.Repository.
func (r *Repo) UpdatePlace(ctx context.Context, p *places.Place) error {
	rec := newPlaceRecord(r.cfg.PlacesTable, p)
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("encode place %s: %w", p.ID, err)
	}
	// The creator never changes after creation.
	delete(item, "creator_id")

	// A place whose creator is soft-deleted is waiting for the cascade and
	// must not change any more.
	txn := r.store.Begin()
	txn.Update(labelUpdatePlace, rec, item, p.Version)
	txn.Check(labelCreatorLive, store.ConditionCheck{
		TableName: r.cfg.UsersTable,
		Key:       newUserRecord(r.cfg.UsersTable, &places.User{ID: p.CreatorID}).GetKey(),
	})
	if err := txn.Commit(ctx); err != nil {
		return mapCommitError(err)
	}
	p.Version++
	return nil
}

// CreateUser implements places.Repository.
func (r *Repo) CreateUser(ctx context.Context, u *places.User) error {
	rec := newUserRecord(r.cfg.UsersTable, u)
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", u.ID, err)
	}
	if err := r.store.Create(ctx, rec, item); err != nil {
		return mapStoreError(err)
	}
	u.Version = 1
	return nil
}

// RemoveUser implements places.Repository. The user and its email reservation
// are soft-deleted now; its places follow through the stream cascade.
func (r *Repo) RemoveUser(ctx context.Context, u *places.User) error {
	rec := newUserRecord(r.cfg.UsersTable, u)
	if err := r.store.Delete(ctx, rec); err != nil {
		return mapStoreError(err)
	}

	// Released here as well so the email can be reused before the stream runs.
	email := rec.UniqueFields()["email"]
	pk := shard.UniqueConstraintPK(rec.UniqueScope(), userEntityType, "email", email)
	if err := r.store.SetUniqueConstraintTTL(ctx, pk, r.now().Unix()); err != nil {
		return mapStoreError(err)
	}
	return nil
}

// Atomically implements places.Repository. Writes are buffered in a store.Txn
// and sent as one TransactWriteItems call when fn returns nil.
func (r *Repo) Atomically(ctx context.Context, fn func(tx places.Tx) error) error {
	t := &tx{repo: r, txn: r.store.Begin()}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction abandoned: %w", err)
	}
	return mapCommitError(t.txn.Commit(ctx))
}

// tx is the places.Tx view of a store.Txn.
type tx struct {
	repo *Repo
	txn  *store.Txn
}

func (t *tx) InsertPlace(p *places.Place) error {
	rec := newPlaceRecord(t.repo.cfg.PlacesTable, p)
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("encode place %s: %w", p.ID, err)
	}
	t.txn.PutNew(labelInsertPlace, rec, item)
	return nil
}

func (t *tx) SaveUser(u *places.User) error {
	rec := newUserRecord(t.repo.cfg.UsersTable, u)
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", u.ID, err)
	}
	// Email and password hash are owned by registration.
	delete(item, "email")
	delete(item, "password_hash")

	t.txn.Update(labelSaveUser, rec, item, u.Version)
	u.Version++
	return nil
}

func (t *tx) DeletePlace(p *places.Place) error {
	rec := newPlaceRecord(t.repo.cfg.PlacesTable, p)
	t.txn.Delete(labelDeletePlace, rec, &store.Condition{
		Expr: "#creator = :creator AND attribute_not_exists(#ttl)",
		Names: map[string]string{
			"#creator": "creator_id",
			"#ttl":     "ttl",
		},
		Values: map[string]types.AttributeValue{
			":creator": &types.AttributeValueMemberS{Value: p.CreatorID},
		},
	})
	return nil
}

func decodePlace(item *store.Item) (*places.Place, error) {
	var rec placeRecord
	if err := attributevalue.UnmarshalMap(item.Raw, &rec); err != nil {
		return nil, fmt.Errorf("decode place: %w", err)
	}
	return rec.toPlace(item.Version), nil
}

// mapStoreError translates store errors into repository errors.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", places.ErrRecordNotFound, err)
	case errors.Is(err, store.ErrTxConflict):
		return fmt.Errorf("%w: %w", places.ErrVersionConflict, err)
	case errors.Is(err, store.ErrDuplicateValue), errors.Is(err, store.ErrAlreadyExists):
		return fmt.Errorf("%w: %w", places.ErrDuplicate, err)
	default:
		return err
	}
}

// mapCommitError uses the label of the failed item to name the cause.
func mapCommitError(err error) error {
	var condErr *store.ConditionError
	if !errors.As(err, &condErr) {
		return mapStoreError(err)
	}
	switch condErr.Label {
	case labelSaveUser, labelUpdatePlace:
		return fmt.Errorf("%w: %w", places.ErrVersionConflict, err)
	case labelInsertPlace:
		return fmt.Errorf("%w: %w", places.ErrDuplicate, err)
	case labelDeletePlace, labelCreatorLive:
		return fmt.Errorf("%w: %w", places.ErrRecordNotFound, err)
	default:
		return err
	}
}

// Package stream follows soft deletes along parent to child back-references.
//
// The users table stream feeds HandleCascadeDelete. When a user gains a ttl,
// every place in its places list gets the same ttl and its email reservation
// is released.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"github.com/chandank04/your-places-backend/internal/metrics"
	"github.com/chandank04/your-places-backend/store"
)

// Store is the part of *store.Store the cascade handler needs.
type Store interface {
	Registry() *store.Registry
	SetTTLByKey(ctx context.Context, table string, key store.PK, ttl int64) error
	SetUniqueConstraintTTL(ctx context.Context, pk string, ttl int64) error
}

// Handler soft-deletes the children of soft-deleted parents.
type Handler struct {
	store  Store
	logger zerolog.Logger
}

// NewHandler returns a Handler over s.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewHandler(s Store, logger zerolog.Logger) *Handler {
	return &Handler{
		store:  s,
		logger: logger,
	}
}

// HandleCascadeDelete is the Lambda entry point for the users table stream.
// It stops at the first record that fails so Lambda retries the batch.
func (h *Handler) HandleCascadeDelete(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error().
				Err(err).
				Str("event_id", record.EventID).
				Msg("failed to process record")
			return err
		}
	}
	return nil
}

// processRecord cascades one stream record.
// Every child is attempted before failures are reported, and re-running a
// record is harmless because TTLs already set are left alone.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "MODIFY" {
		return nil
	}

	image := record.Change.NewImage
	oldTTL := getNumberAttr(record.Change.OldImage, "ttl")
	newTTL := getNumberAttr(image, "ttl")

	// Only the write that sets the ttl cascades.
	if oldTTL != 0 || newTTL == 0 {
		return nil
	}

	entityRef := getStringAttr(image, "entity_ref")
	entityType, _, _ := strings.Cut(entityRef, "#")
	uniquePKs := getStringListAttr(image, "_unique_pks")

	log := h.logger.With().Str("entity_ref", entityRef).Int64("ttl", newTTL).Logger()
	log.Info().Msg("processing cascade delete")

	var failures []error
	children := 0

	if registry := h.store.Registry(); registry != nil {
		for _, rel := range registry.ChildrenOf(entityType) {
			for _, childID := range getStringListAttr(image, rel.BackRefAttr) {
				children++
				err := h.store.SetTTLByKey(ctx, rel.ChildTableName, rel.ChildKey(childID), newTTL)
				if err != nil {
					metrics.CascadeChildren.WithLabelValues(rel.ChildType, "failed").Inc()
					log.Warn().Err(err).
						Str("child_type", rel.ChildType).
						Str("child_id", childID).
						Msg("failed to set TTL on child")
					failures = append(failures, fmt.Errorf("%s %s: %w", rel.ChildType, childID, err))
					continue
				}
				metrics.CascadeChildren.WithLabelValues(rel.ChildType, "ok").Inc()
			}
		}
	}

	for _, constraintPK := range uniquePKs {
		if err := h.store.SetUniqueConstraintTTL(ctx, constraintPK, newTTL); err != nil {
			log.Warn().Err(err).Str("pk", constraintPK).Msg("failed to set unique constraint TTL")
			failures = append(failures, fmt.Errorf("unique constraint %s: %w", constraintPK, err))
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("cascade %s: %w", entityRef, errors.Join(failures...))
	}

	log.Info().
		Int("children", children).
		Int("unique_constraints", len(uniquePKs)).
		Msg("cascade delete completed")

	return nil
}

// getStringAttr returns a string attribute, or "".
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr returns a numeric attribute, or 0.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	v, ok := image[key]
	if !ok || v.DataType() != events.DataTypeNumber {
		return 0
	}
	n, err := strconv.ParseInt(v.Number(), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// getStringListAttr returns the strings of a list or string set attribute.
func getStringListAttr(image map[string]events.DynamoDBAttributeValue, key string) []string {
	v, ok := image[key]
	if !ok {
		return nil
	}
	switch v.DataType() {
	case events.DataTypeList:
		var ids []string
		for _, elem := range v.List() {
			if elem.DataType() == events.DataTypeString {
				ids = append(ids, elem.String())
			}
		}
		return ids
	case events.DataTypeStringSet:
		return v.StringSet()
	}
	return nil
}

// ConvertStreamKey turns the Keys of a stream record into a store.PK.
// Attributes of other types are dropped.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) store.PK {
	pk := make(store.PK, len(streamKey))
	for name, v := range streamKey {
		switch v.DataType() {
		case events.DataTypeString:
			pk[name] = &types.AttributeValueMemberS{Value: v.String()}
		case events.DataTypeNumber:
			pk[name] = &types.AttributeValueMemberN{Value: v.Number()}
		case events.DataTypeBinary:
			pk[name] = &types.AttributeValueMemberB{Value: v.Binary()}
		}
	}
	return pk
}

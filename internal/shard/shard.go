// Package shard derives hashed partition keys for the unique constraint table.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// keyBytes is the number of hash bytes kept in a key (128 bits).
const keyBytes = 16

// Constraint names one reserved value, such as a user's email in the global scope.
type Constraint struct {
	Scope      string
	EntityType string
	Field      string
	Value      string
}

// PK returns the partition key of the constraint record. Hashing spreads
// records across partitions, so a single shared scope never becomes a hot key.
func (c Constraint) PK() string {
	sum := sha256.Sum256([]byte(strings.Join([]string{c.Scope, c.EntityType, c.Field, c.Value}, "#")))
	return hex.EncodeToString(sum[:keyBytes])
}

// UniqueConstraintPK is shorthand for Constraint{...}.PK().
func UniqueConstraintPK(scope, entityType, field, value string) string {
	return Constraint{Scope: scope, EntityType: entityType, Field: field, Value: value}.PK()
}

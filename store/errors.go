package store

import "errors"

var (
	// ErrNotFound is returned when an entity doesn't exist or is deleted (has TTL <= now).
	ErrNotFound = errors.New("store: entity not found")

	// ErrAlreadyExists is returned when attempting to create an entity with an existing ID.
	ErrAlreadyExists = errors.New("store: entity already exists")

	// ErrDuplicateValue is returned when a unique constraint is violated.
	ErrDuplicateValue = errors.New("store: duplicate value for unique field")

	// ErrConditionFailed is returned when a labelled transaction item fails its condition.
	// The concrete error is a *ConditionError naming the item.
	ErrConditionFailed = errors.New("store: transaction condition failed")

	// ErrTxConflict is returned when DynamoDB cancels a transaction because another
	// transaction touched the same items.
	ErrTxConflict = errors.New("store: transaction conflict")

	// ErrUnavailable is returned when the circuit breaker rejects a call.
	ErrUnavailable = errors.New("store: dynamodb unavailable")
)

// ConditionError identifies the transaction item whose condition failed.
type ConditionError struct {
	// Label is the label given to the item when it was added to the Txn.
	Label string
}

func (e *ConditionError) Error() string {
	return "store: transaction condition failed on " + e.Label
}

// Is reports ErrConditionFailed as a match.
func (e *ConditionError) Is(target error) bool {
	return target == ErrConditionFailed
}

package places

import "context"

// Repository is the record store the Linker and Accounts work against.
//
// Implementations return ErrRecordNotFound for absent records,
// ErrVersionConflict when an optimistic check fails and ErrDuplicate when a
// uniqueness rule is violated. Any other error is treated as the store being
// unavailable.
type Repository interface {
	// User loads a user by id.
	User(ctx context.Context, id string) (*User, error)

	// Place loads a place by id.
	Place(ctx context.Context, id string) (*Place, error)

	// PlacesByCreator returns the places whose CreatorID is creatorID.
	PlacesByCreator(ctx context.Context, creatorID string) ([]*Place, error)

	// UpdatePlace persists p if the stored version still equals p.Version.
	// On success p.Version is incremented.
	UpdatePlace(ctx context.Context, p *Place) error

	// CreateUser stores a new user, reserving its email.
	CreateUser(ctx context.Context, u *User) error

	// RemoveUser deletes u, releases its email and removes (or schedules the
	// removal of) every place in u.Places.
	RemoveUser(ctx context.Context, u *User) error

	// Atomically runs fn inside a transaction scope. Writes made through tx
	// commit together when fn returns nil and are discarded otherwise. The
	// scope's resources are released before Atomically returns.
	Atomically(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side of a transaction scope.
type Tx interface {
	// InsertPlace stores a new place. ErrDuplicate if the id is taken.
	InsertPlace(p *Place) error

	// SaveUser persists u if the stored version still equals u.Version.
	// u.Version is incremented to the value it will have once committed.
	SaveUser(u *User) error

	// DeletePlace removes p. ErrRecordNotFound if it is already gone.
	DeletePlace(p *Place) error
}

package places

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chandank04/your-places-backend/internal/metrics"
)

const (
	opCreateLinked    = "create_linked"
	opUpdateOwned     = "update_owned"
	opDeleteLinked    = "delete_linked"
	opGetByID         = "get_by_id"
	opGetAllByCreator = "get_all_by_creator"
)

// Linker is the only code path that creates or deletes places. It keeps each
// place and its creator's back-reference list in step by writing both inside
// one transaction scope, and it checks ownership before any mutation.
//
// A Linker holds no mutable state of its own and is safe for concurrent use.
type Linker struct {
	repo Repository
	opts options
}

// NewLinker returns a Linker over repo.
func NewLinker(repo Repository, opts ...Option) *Linker {
	return &Linker{repo: repo, opts: buildOptions(opts)}
}

// CreateLinked stores a new place owned by creatorID and appends it to the
// creator's places. Both writes commit together or not at all.
func (l *Linker) CreateLinked(ctx context.Context, in NewPlace, creatorID string) (place *Place, err error) {
	start := time.Now()
	defer func() { l.record(opCreateLinked, start, err, placeID(place), creatorID) }()

	if creatorID == "" {
		return nil, ErrCreatorNotFound
	}

	// Resolved before the transaction.
	creator, err := l.repo.User(ctx, creatorID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrCreatorNotFound
		}
		return nil, fmt.Errorf("%w: load creator: %w", ErrStoreUnavailable, err)
	}

	now := l.opts.now().UTC()
	created := &Place{
		ID:          l.opts.newID(),
		Title:       in.Title,
		Description: in.Description,
		Address:     in.Address,
		Location:    in.Location,
		Image:       in.Image,
		CreatorID:   creator.ID,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = l.atomically(ctx, func(tx Tx) error {
		if err := tx.InsertPlace(created); err != nil {
			return fmt.Errorf("insert place: %w", err)
		}
		creator.linkPlace(created.ID)
		creator.UpdatedAt = now
		if err := tx.SaveUser(creator); err != nil {
			return fmt.Errorf("link place to creator: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLinkCommitFailed, err)
	}

	return created, nil
}

// UpdateOwned changes the title and description of a place owned by requestingUserID.
func (l *Linker) UpdateOwned(ctx context.Context, id, requestingUserID string, upd PlaceUpdate) (place *Place, err error) {
	start := time.Now()
	defer func() { l.record(opUpdateOwned, start, err, id, requestingUserID) }()

	place, err = l.loadPlace(ctx, id)
	if err != nil {
		return nil, err
	}
	if place.CreatorID != requestingUserID {
		return nil, ErrNotOwner
	}

	if upd.Title != nil {
		place.Title = *upd.Title
	}
	if upd.Description != nil {
		place.Description = *upd.Description
	}
	place.UpdatedAt = l.opts.now().UTC()

	if err := l.repo.UpdatePlace(ctx, place); err != nil {
		switch {
		case errors.Is(err, ErrVersionConflict):
			return nil, ErrConflict
		case errors.Is(err, ErrRecordNotFound):
			return nil, ErrPlaceNotFound
		default:
			return nil, fmt.Errorf("%w: update place: %w", ErrStoreUnavailable, err)
		}
	}

	return place, nil
}

// DeleteLinked removes a place owned by requestingUserID and drops it from the
// creator's places. Both writes commit together or not at all.
func (l *Linker) DeleteLinked(ctx context.Context, id, requestingUserID string) (err error) {
	start := time.Now()
	defer func() { l.record(opDeleteLinked, start, err, id, requestingUserID) }()

	place, err := l.loadPlace(ctx, id)
	if err != nil {
		return err
	}

	creator, err := l.repo.User(ctx, place.CreatorID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return ErrCreatorMissing
		}
		return fmt.Errorf("%w: load creator: %w", ErrStoreUnavailable, err)
	}

	if creator.ID != requestingUserID {
		return ErrNotOwner
	}

	// Unlink is queued before the delete so no committed state can show a
	// removed place that is still referenced.
	err = l.atomically(ctx, func(tx Tx) error {
		creator.unlinkPlace(place.ID)
		creator.UpdatedAt = l.opts.now().UTC()
		if err := tx.SaveUser(creator); err != nil {
			return fmt.Errorf("unlink place from creator: %w", err)
		}
		if err := tx.DeletePlace(place); err != nil {
			return fmt.Errorf("delete place: %w", err)
		}
		return nil
	})
	if err != nil {
		if l.lostDeleteRace(ctx, place.ID, err) {
			return ErrPlaceNotFound
		}
		return fmt.Errorf("%w: %w", ErrUnlinkCommitFailed, err)
	}

	return nil
}

// lostDeleteRace reports whether a failed unlink transaction lost to another
// delete of the same place. The user's version check usually fails before the
// place condition, so the place is read again to tell the cases apart.
func (l *Linker) lostDeleteRace(ctx context.Context, id string, err error) bool {
	if !errors.Is(err, ErrVersionConflict) && !errors.Is(err, ErrRecordNotFound) {
		return false
	}
	_, readErr := l.repo.Place(ctx, id)
	return errors.Is(readErr, ErrRecordNotFound)
}

// GetByID returns a place.
func (l *Linker) GetByID(ctx context.Context, id string) (place *Place, err error) {
	start := time.Now()
	defer func() { l.record(opGetByID, start, err, id, "") }()

	return l.loadPlace(ctx, id)
}

// GetAllByCreator returns the places created by userID. The result is never nil.
func (l *Linker) GetAllByCreator(ctx context.Context, userID string) (places []*Place, err error) {
	start := time.Now()
	defer func() { l.record(opGetAllByCreator, start, err, "", userID) }()

	places, err = l.repo.PlacesByCreator(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list places: %w", ErrStoreUnavailable, err)
	}
	if places == nil {
		places = []*Place{}
	}
	return places, nil
}

func (l *Linker) loadPlace(ctx context.Context, id string) (*Place, error) {
	if id == "" {
		return nil, ErrPlaceNotFound
	}
	place, err := l.repo.Place(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrPlaceNotFound
		}
		return nil, fmt.Errorf("%w: load place: %w", ErrStoreUnavailable, err)
	}
	return place, nil
}

func (l *Linker) atomically(ctx context.Context, fn func(tx Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, l.opts.txTimeout)
	defer cancel()
	return l.repo.Atomically(ctx, fn)
}

func (l *Linker) record(op string, start time.Time, err error, placeID, userID string) {
	metrics.LinkerDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	outcome := logOutcome(l.opts.logger, op, err, func(e *zerolog.Event) {
		if placeID != "" {
			e.Str("place_id", placeID)
		}
		if userID != "" {
			e.Str("user_id", userID)
		}
	})
	metrics.LinkerOperations.WithLabelValues(op, outcome).Inc()
}

// logOutcome logs an operation result and returns its outcome label: debug on
// success, warn on client faults, error on server faults.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func logOutcome(logger zerolog.Logger, op string, err error, fields func(*zerolog.Event)) string {
	var event *zerolog.Event
	outcome := "ok"
	switch Classify(err) {
	case FaultNone:
		event = logger.Debug()
	case FaultClient:
		outcome = "client_error"
		event = logger.Warn().Err(err)
	default:
		outcome = "server_error"
		event = logger.Error().Err(err)
	}

	fields(event)
	event.Str("operation", op).Msg(op)
	return outcome
}

func placeID(p *Place) string {
	if p == nil {
		return ""
	}
	return p.ID
}

// Package badgerrepo implements places.Repository on an embedded BadgerDB.
//
// Records are JSON documents under prefixed keys. The creator index and the
// email reservation are separate keys written in the same Badger transaction
// as the record they belong to.
package badgerrepo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/chandank04/your-places-backend/places"
)

// Key prefixes for BadgerDB storage
const (
	userKeyPrefix    = "user:"
	placeKeyPrefix   = "place:"
	emailKeyPrefix   = "email:"
	creatorKeyPrefix = "creator:"
)

// Config selects where the database lives.
type Config struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory; data is lost on Close.
	InMemory bool

	// Logger receives Badger's internal log lines. Default: discarded.
	Logger *zerolog.Logger
}

// Repo is a places.Repository backed by BadgerDB.
type Repo struct {
	db *badger.DB
}

var _ places.Repository = (*Repo)(nil)

// Open opens (or creates) the database described by cfg.
func Open(cfg Config) (*Repo, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badgerrepo: path is required unless in-memory")
	}

	path := cfg.Path
	if cfg.InMemory {
		path = ""
	}
	opts := badger.DefaultOptions(path).WithInMemory(cfg.InMemory).WithLogger(nil)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{l: *cfg.Logger})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Repo{db: db}, nil
}

// Close releases the database.
func (r *Repo) Close() error {
	return r.db.Close()
}

// User implements places.Repository.
func (r *Repo) User(ctx context.Context, id string) (*places.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var u *places.User
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		u, err = getUser(txn, id)
		return err
	})
	return u, err
}

// Place implements places.Repository.
func (r *Repo) Place(ctx context.Context, id string) (*places.Place, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var p *places.Place
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		p, err = getPlace(txn, id)
		return err
	})
	return p, err
}

// PlacesByCreator implements places.Repository. Results are ordered by creation time.
func (r *Repo) PlacesByCreator(ctx context.Context, creatorID string) ([]*places.Place, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []*places.Place
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := creatorPrefix(creatorID)
		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}

		for _, id := range ids {
			p, err := getPlace(txn, id)
			if errors.Is(err, places.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			result = append(result, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(result, func(a, b *places.Place) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

// UpdatePlace implements places.Repository.
func (r *Repo) UpdatePlace(ctx context.Context, p *places.Place) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next := p.Version + 1
	err := r.update(func(txn *badger.Txn) error {
		stored, err := getPlace(txn, p.ID)
		if err != nil {
			return err
		}
		if stored.Version != p.Version {
			return places.ErrVersionConflict
		}
		updated := *p
		updated.Version = next
		return setPlace(txn, &updated)
	})
	if err != nil {
		return err
	}
	p.Version = next
	return nil
}

// CreateUser implements places.Repository.
func (r *Repo) CreateUser(ctx context.Context, u *places.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.update(func(txn *badger.Txn) error {
		emailKey := []byte(emailKeyPrefix + places.NormalizeEmail(u.Email))
		taken, err := exists(txn, emailKey)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: email", places.ErrDuplicate)
		}
		idTaken, err := exists(txn, userKey(u.ID))
		if err != nil {
			return err
		}
		if idTaken {
			return fmt.Errorf("%w: user id", places.ErrDuplicate)
		}

		if err := txn.Set(emailKey, []byte(u.ID)); err != nil {
			return fmt.Errorf("set email reservation: %w", err)
		}
		return setUser(txn, u)
	})
}

// RemoveUser implements places.Repository. The user, its email reservation and
// every place it owns are removed in one transaction.
func (r *Repo) RemoveUser(ctx context.Context, u *places.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.update(func(txn *badger.Txn) error {
		stored, err := getUser(txn, u.ID)
		if err != nil {
			return err
		}
		if stored.Version != u.Version {
			return places.ErrVersionConflict
		}

		for _, placeID := range stored.Places {
			if err := deletePlace(txn, placeID, ""); err != nil && !errors.Is(err, places.ErrRecordNotFound) {
				return err
			}
		}
		if err := txn.Delete([]byte(emailKeyPrefix + places.NormalizeEmail(stored.Email))); err != nil {
			return fmt.Errorf("delete email reservation: %w", err)
		}
		if err := txn.Delete(userKey(stored.ID)); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
}

// Atomically implements places.Repository.
// The Badger transaction is discarded on every exit path; after a successful
// Commit the discard is a no-op.
func (r *Repo) Atomically(ctx context.Context, fn func(tx places.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	txn := r.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(&tx{txn: txn}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction abandoned: %w", err)
	}
	return commit(txn)
}

// update runs fn in a read-write transaction and maps commit conflicts.
func (r *Repo) update(fn func(txn *badger.Txn) error) error {
	txn := r.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return commit(txn)
}

func commit(txn *badger.Txn) error {
	if err := txn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("%w: %w", places.ErrVersionConflict, err)
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// tx is the places.Tx view of an open Badger transaction.
type tx struct {
	txn *badger.Txn
}

func (t *tx) InsertPlace(p *places.Place) error {
	taken, err := exists(t.txn, placeKey(p.ID))
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: place id", places.ErrDuplicate)
	}
	if err := setPlace(t.txn, p); err != nil {
		return err
	}
	if err := t.txn.Set(creatorKey(p.CreatorID, p.ID), nil); err != nil {
		return fmt.Errorf("set creator index: %w", err)
	}
	return nil
}

func (t *tx) SaveUser(u *places.User) error {
	stored, err := getUser(t.txn, u.ID)
	if err != nil {
		if errors.Is(err, places.ErrRecordNotFound) {
			return fmt.Errorf("%w: user removed", places.ErrVersionConflict)
		}
		return err
	}
	if stored.Version != u.Version {
		return places.ErrVersionConflict
	}

	u.Version++
	// Email and password hash are owned by registration.
	u.Email = stored.Email
	u.PasswordHash = stored.PasswordHash
	return setUser(t.txn, u)
}

func (t *tx) DeletePlace(p *places.Place) error {
	return deletePlace(t.txn, p.ID, p.CreatorID)
}

// deletePlace removes a place and its index entry. When creatorID is not
// empty the stored place must still belong to it.
func deletePlace(txn *badger.Txn, id, creatorID string) error {
	stored, err := getPlace(txn, id)
	if err != nil {
		return err
	}
	if creatorID != "" && stored.CreatorID != creatorID {
		return places.ErrRecordNotFound
	}
	if err := txn.Delete(placeKey(id)); err != nil {
		return fmt.Errorf("delete place: %w", err)
	}
	if err := txn.Delete(creatorKey(stored.CreatorID, id)); err != nil {
		return fmt.Errorf("delete creator index: %w", err)
	}
	return nil
}

func userKey(id string) []byte  { return []byte(userKeyPrefix + id) }
func placeKey(id string) []byte { return []byte(placeKeyPrefix + id) }

func creatorPrefix(creatorID string) []byte {
	return []byte(creatorKeyPrefix + creatorID + ":")
}

func creatorKey(creatorID, placeID string) []byte {
	return append(creatorPrefix(creatorID), placeID...)
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("get %s: %w", key, err)
	}
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return places.ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func getUser(txn *badger.Txn, id string) (*places.User, error) {
	var rec userRecord
	if err := getJSON(txn, userKey(id), &rec); err != nil {
		return nil, err
	}
	return rec.toUser(), nil
}

func setUser(txn *badger.Txn, u *places.User) error {
	return setJSON(txn, userKey(u.ID), newUserRecord(u))
}

func getPlace(txn *badger.Txn, id string) (*places.Place, error) {
	var rec placeRecord
	if err := getJSON(txn, placeKey(id), &rec); err != nil {
		return nil, err
	}
	return rec.toPlace(), nil
}

func setPlace(txn *badger.Txn, p *places.Place) error {
	return setJSON(txn, placeKey(p.ID), newPlaceRecord(p))
}

// badgerLogger forwards Badger's printf-style logging to zerolog.
type badgerLogger struct {
	l zerolog.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.l.Error().Msg(trimLine(format, args))
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn().Msg(trimLine(format, args))
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.l.Debug().Msg(trimLine(format, args))
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.l.Trace().Msg(trimLine(format, args))
}

func trimLine(format string, args []any) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

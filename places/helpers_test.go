package places_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/chandank04/your-places-backend/internal/badgerrepo"
	"github.com/chandank04/your-places-backend/places"
)

var errInjected = errors.New("injected failure")

// faultyRepo wraps a real repository and fails chosen steps on demand.
type faultyRepo struct {
	places.Repository

	failInsert  bool
	failSave    bool
	failDelete  bool
	failCommit  bool
	failReads   bool
	failList    bool
	failUpdate  bool
	atomicCalls atomic.Int32

	// beforeAtomic, when set, runs once at the start of the next Atomically.
	beforeAtomic func()
}

func (r *faultyRepo) User(ctx context.Context, id string) (*places.User, error) {
	if r.failReads {
		return nil, errInjected
	}
	return r.Repository.User(ctx, id)
}

func (r *faultyRepo) Place(ctx context.Context, id string) (*places.Place, error) {
	if r.failReads {
		return nil, errInjected
	}
	return r.Repository.Place(ctx, id)
}

func (r *faultyRepo) PlacesByCreator(ctx context.Context, creatorID string) ([]*places.Place, error) {
	if r.failList {
		return nil, errInjected
	}
	return r.Repository.PlacesByCreator(ctx, creatorID)
}

func (r *faultyRepo) UpdatePlace(ctx context.Context, p *places.Place) error {
	if r.failUpdate {
		return errInjected
	}
	return r.Repository.UpdatePlace(ctx, p)
}

func (r *faultyRepo) Atomically(ctx context.Context, fn func(tx places.Tx) error) error {
	r.atomicCalls.Add(1)
	if hook := r.beforeAtomic; hook != nil {
		r.beforeAtomic = nil
		hook()
	}
	return r.Repository.Atomically(ctx, func(tx places.Tx) error {
		if err := fn(&faultyTx{Tx: tx, repo: r}); err != nil {
			return err
		}
		if r.failCommit {
			return fmt.Errorf("commit: %w", errInjected)
		}
		return nil
	})
}

type faultyTx struct {
	places.Tx
	repo *faultyRepo
}

func (t *faultyTx) InsertPlace(p *places.Place) error {
	if err := t.Tx.InsertPlace(p); err != nil {
		return err
	}
	if t.repo.failInsert {
		return errInjected
	}
	return nil
}

func (t *faultyTx) SaveUser(u *places.User) error {
	if t.repo.failSave {
		return errInjected
	}
	return t.Tx.SaveUser(u)
}

func (t *faultyTx) DeletePlace(p *places.Place) error {
	if err := t.Tx.DeletePlace(p); err != nil {
		return err
	}
	if t.repo.failDelete {
		return errInjected
	}
	return nil
}

type fixture struct {
	repo     *badgerrepo.Repo
	faulty   *faultyRepo
	linker   *places.Linker
	accounts *places.Accounts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := badgerrepo.Open(badgerrepo.Config{InMemory: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	faulty := &faultyRepo{Repository: repo}
	return &fixture{
		repo:     repo,
		faulty:   faulty,
		linker:   places.NewLinker(faulty),
		accounts: places.NewAccounts(faulty, places.WithBcryptCost(4)),
	}
}

func (f *fixture) register(t *testing.T, name string) *places.User {
	t.Helper()
	u, err := f.accounts.Register(context.Background(), places.NewUser{
		Name:     name,
		Email:    name + "@example.com",
		Password: "secret-" + name,
		Image:    "uploads/images/" + name + ".png",
	})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", name, err)
	}
	return u
}

func (f *fixture) create(t *testing.T, title, creatorID string) *places.Place {
	t.Helper()
	p, err := f.linker.CreateLinked(context.Background(), places.NewPlace{
		Title:       title,
		Description: "A nice spot",
		Address:     "1 Main St",
		Location:    places.Location{Lat: 52.52, Lng: 13.405},
		Image:       "uploads/images/" + title + ".jpg",
	}, creatorID)
	if err != nil {
		t.Fatalf("CreateLinked(%s) error = %v", title, err)
	}
	return p
}

// assertLinked checks the back-reference invariant for userID straight from
// the store: the user's list equals the ids of the places it created.
func (f *fixture) assertLinked(t *testing.T, userID string, wantIDs ...string) {
	t.Helper()
	ctx := context.Background()

	u, err := f.repo.User(ctx, userID)
	if err != nil {
		t.Fatalf("User(%s) error = %v", userID, err)
	}
	if !sameSet(u.Places, wantIDs) {
		t.Errorf("user %s places = %v, want %v", userID, u.Places, wantIDs)
	}

	owned, err := f.repo.PlacesByCreator(ctx, userID)
	if err != nil {
		t.Fatalf("PlacesByCreator(%s) error = %v", userID, err)
	}
	ids := make([]string, len(owned))
	for i, p := range owned {
		ids[i] = p.ID
	}
	if !sameSet(ids, wantIDs) {
		t.Errorf("places created by %s = %v, want %v", userID, ids, wantIDs)
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		seen[s]--
		if seen[s] < 0 {
			return false
		}
	}
	return true
}

func ptr[T any](v T) *T { return &v }

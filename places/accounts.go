package places

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/chandank04/your-places-backend/internal/metrics"
)

const (
	opRegister   = "register_user"
	opRemoveUser = "remove_user"
)

// Accounts manages users: registration with a unique email and a bcrypt
// password hash, lookup, and removal together with the user's places.
type Accounts struct {
	repo     Repository
	opts     options
	validate *validator.Validate
}

// NewAccounts returns Accounts over repo.
func NewAccounts(repo Repository, opts ...Option) *Accounts {
	return &Accounts{
		repo:     repo,
		opts:     buildOptions(opts),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Register creates a user with an empty places list.
func (a *Accounts) Register(ctx context.Context, in NewUser) (user *User, err error) {
	start := time.Now()
	defer func() { a.record(opRegister, start, err, user) }()

	in.Email = NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := a.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), a.opts.bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, fmt.Errorf("%w: password too long", ErrValidation)
		}
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := a.opts.now().UTC()
	created := &User{
		ID:           a.opts.newID(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: string(hash),
		Image:        in.Image,
		Places:       []string{},
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := a.repo.CreateUser(ctx, created); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("%w: create user: %w", ErrStoreUnavailable, err)
	}

	return created, nil
}

// User returns a user by id.
func (a *Accounts) User(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, ErrUserNotFound
	}
	u, err := a.repo.User(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: load user: %w", ErrStoreUnavailable, err)
	}
	return u, nil
}

// VerifyPassword reports whether password matches the user's stored hash.
func (a *Accounts) VerifyPassword(u *User, password string) bool {
	if u == nil || u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// Remove deletes a user and the places it owns.
func (a *Accounts) Remove(ctx context.Context, id string) (err error) {
	start := time.Now()
	var u *User
	defer func() { a.record(opRemoveUser, start, err, u) }()

	u, err = a.User(ctx, id)
	if err != nil {
		return err
	}

	if err := a.repo.RemoveUser(ctx, u); err != nil {
		switch {
		case errors.Is(err, ErrVersionConflict):
			return ErrConflict
		case errors.Is(err, ErrRecordNotFound):
			return ErrUserNotFound
		default:
			return fmt.Errorf("%w: remove user: %w", ErrStoreUnavailable, err)
		}
	}
	return nil
}

func (a *Accounts) record(op string, start time.Time, err error, u *User) {
	elapsed := time.Since(start)
	metrics.AccountDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	outcome := logOutcome(a.opts.logger, op, err, func(e *zerolog.Event) {
		if u != nil {
			e.Str("user_id", u.ID)
		}
		e.Dur("elapsed", elapsed)
	})
	metrics.AccountOperations.WithLabelValues(op, outcome).Inc()
}

// validationError flattens validator output into an ErrValidation.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+" failed "+fe.Tag())
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(parts, ", "))
}

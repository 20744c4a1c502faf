package places

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// DefaultTxTimeout bounds every transaction scope opened by the Linker.
const DefaultTxTimeout = 10 * time.Second

type options struct {
	logger     zerolog.Logger
	txTimeout  time.Duration
	now        func() time.Time
	newID      func() string
	bcryptCost int
}

func defaultOptions() options {
	return options{
		logger:     zerolog.Nop(),
		txTimeout:  DefaultTxTimeout,
		now:        time.Now,
		newID:      uuid.NewString,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// Option configures a Linker or Accounts.
type Option func(*options)

// WithLogger sets the logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTxTimeout bounds each transaction scope. Non-positive values keep the default.
func WithTxTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.txTimeout = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator overrides the id generator (uuid.NewString by default).
func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

// WithBcryptCost sets the bcrypt cost used when hashing passwords.
func WithBcryptCost(cost int) Option {
	return func(o *options) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			o.bcryptCost = cost
		}
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

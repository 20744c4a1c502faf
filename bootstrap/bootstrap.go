// Package bootstrap wires the configured repository into a Linker and Accounts.
//
// A Runtime owns the process-wide store connection. Open it once at startup,
// share it across requests and Close it on shutdown.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/chandank04/your-places-backend/internal/badgerrepo"
	"github.com/chandank04/your-places-backend/internal/config"
	"github.com/chandank04/your-places-backend/internal/dynamorepo"
	"github.com/chandank04/your-places-backend/internal/logging"
	"github.com/chandank04/your-places-backend/places"
	"github.com/chandank04/your-places-backend/store"
)

// Runtime holds the long-lived components built from a Config.
type Runtime struct {
	Repository places.Repository
	Linker     *places.Linker
	Accounts   *places.Accounts

	// Store is set for the dynamodb backend only.
	Store *store.Store

	close func() error
}

// Open builds the repository selected by cfg.Backend and the components on top of it.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{close: func() error { return nil }}

	switch cfg.Backend {
	case config.BackendDynamoDB:
		s, err := OpenStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		rt.Store = s
		rt.Repository = dynamorepo.New(s, DynamoRepoConfig(cfg))

	case config.BackendBadger:
		badgerLogger := logging.Component(logger, "badger")
		repo, err := badgerrepo.Open(badgerrepo.Config{
			Path:     cfg.Badger.Path,
			InMemory: cfg.Badger.InMemory,
			Logger:   &badgerLogger,
		})
		if err != nil {
			return nil, err
		}
		rt.Repository = repo
		rt.close = repo.Close

	default:
		return nil, fmt.Errorf("bootstrap: unknown backend %q", cfg.Backend)
	}

	rt.Linker = places.NewLinker(rt.Repository,
		places.WithTxTimeout(cfg.Linker.TxTimeout),
		places.WithLogger(logging.Component(logger, "linker")),
	)
	rt.Accounts = places.NewAccounts(rt.Repository,
		places.WithBcryptCost(cfg.Linker.BcryptCost),
		places.WithLogger(logging.Component(logger, "accounts")),
	)

	logger.Info().Str("backend", cfg.Backend).Msg("runtime ready")
	return rt, nil
}

// Close releases the store connection. It is safe to call more than once.
func (rt *Runtime) Close() error {
	if rt == nil || rt.close == nil {
		return nil
	}
	err := rt.close()
	rt.close = nil
	return err
}

// OpenStore connects to DynamoDB and returns a Store whose registry knows the
// user to place relationship.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func OpenStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*store.Store, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: nil config")
	}
	client, err := store.NewClient(ctx, store.ClientConfig{
		Region:   cfg.DynamoDB.Region,
		Endpoint: cfg.DynamoDB.Endpoint,
		Profile:  cfg.DynamoDB.Profile,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	s := store.NewWithRegistry(client, StoreConfig(cfg), DynamoRepoConfig(cfg).Registry())
	s.SetLogger(logging.Component(logger, "store"))
	return s, nil
}

// StoreConfig converts the dynamodb section into a store.Config.
func StoreConfig(cfg *config.Config) store.Config {
	b := cfg.DynamoDB.Breaker
	return store.Config{
		UniqueTable: cfg.DynamoDB.UniqueTable,
		Breaker: store.BreakerConfig{
			Disabled:            b.Disabled,
			MaxRequests:         b.MaxRequests,
			Interval:            b.Interval,
			Timeout:             b.Timeout,
			ConsecutiveFailures: b.ConsecutiveFailures,
		},
	}
}

// DynamoRepoConfig converts the dynamodb section into a dynamorepo.Config.
func DynamoRepoConfig(cfg *config.Config) dynamorepo.Config {
	return dynamorepo.Config{
		UsersTable:   cfg.DynamoDB.UsersTable,
		PlacesTable:  cfg.DynamoDB.PlacesTable,
		CreatorIndex: cfg.DynamoDB.CreatorIndex,
	}
}

// Logger builds the root logger from the logging section.
func Logger(cfg *config.Config) zerolog.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
}

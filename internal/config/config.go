// Package config loads the places service configuration.
//
// Values are layered, later layers winning:
//
//  1. built-in defaults
//  2. an optional YAML file named by PLACES_CONFIG
//  3. environment variables prefixed with PLACES_
//
// Environment keys map onto the YAML structure by section, for example
// PLACES_DYNAMODB_USERS_TABLE sets dynamodb.users_table and
// PLACES_DYNAMODB_BREAKER_TIMEOUT sets dynamodb.breaker.timeout.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar names the environment variable holding the YAML config path.
const PathEnvVar = "PLACES_CONFIG"

// EnvPrefix is stripped from environment variable names before mapping.
const EnvPrefix = "PLACES_"

// Backends.
const (
	BackendDynamoDB = "dynamodb"
	BackendBadger   = "badger"
)

// Config is the full service configuration.
type Config struct {
	Backend  string         `koanf:"backend" validate:"oneof=dynamodb badger"`
	DynamoDB DynamoDBConfig `koanf:"dynamodb"`
	Badger   BadgerConfig   `koanf:"badger"`
	Linker   LinkerConfig   `koanf:"linker"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// DynamoDBConfig selects the endpoint, tables and breaker settings.
type DynamoDBConfig struct {
	Region       string        `koanf:"region"`
	Endpoint     string        `koanf:"endpoint" validate:"omitempty,url"`
	Profile      string        `koanf:"profile"`
	UsersTable   string        `koanf:"users_table" validate:"required"`
	PlacesTable  string        `koanf:"places_table" validate:"required"`
	UniqueTable  string        `koanf:"unique_table" validate:"required"`
	CreatorIndex string        `koanf:"creator_index" validate:"required"`
	Breaker      BreakerConfig `koanf:"breaker"`
}

// BreakerConfig mirrors store.BreakerConfig.
type BreakerConfig struct {
	Disabled            bool          `koanf:"disabled"`
	MaxRequests         uint32        `koanf:"max_requests" validate:"min=1"`
	Interval            time.Duration `koanf:"interval" validate:"gt=0"`
	Timeout             time.Duration `koanf:"timeout" validate:"gt=0"`
	ConsecutiveFailures uint32        `koanf:"consecutive_failures" validate:"min=1"`
}

// BadgerConfig locates the embedded database.
type BadgerConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// LinkerConfig tunes the Linker and Accounts.
type LinkerConfig struct {
	TxTimeout  time.Duration `koanf:"tx_timeout" validate:"gt=0"`
	BcryptCost int           `koanf:"bcrypt_cost" validate:"min=4,max=31"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Backend: BackendDynamoDB,
		DynamoDB: DynamoDBConfig{
			UsersTable:   "places_users",
			PlacesTable:  "places_places",
			UniqueTable:  "places_unique_constraints",
			CreatorIndex: "creator_id-index",
			Breaker: BreakerConfig{
				MaxRequests:         3,
				Interval:            time.Minute,
				Timeout:             30 * time.Second,
				ConsecutiveFailures: 5,
			},
		},
		Badger: BadgerConfig{
			Path: "data/places",
		},
		Linker: LinkerConfig{
			TxTimeout:  10 * time.Second,
			BcryptCost: 12,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the file named by PLACES_CONFIG, if any, then the environment.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(PathEnvVar))
}

// LoadFile is Load with an explicit YAML path. An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// sections lists the nested prefixes that env keys are split on, longest first.
var sections = []string{
	"dynamodb_breaker_",
	"dynamodb_",
	"badger_",
	"linker_",
	"logging_",
}

// envKey maps PLACES_DYNAMODB_USERS_TABLE to dynamodb.users_table.
func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	for _, s := range sections {
		if rest, ok := strings.CutPrefix(key, s); ok {
			return strings.ReplaceAll(strings.TrimSuffix(s, "_"), "_", ".") + "." + rest
		}
	}
	return key
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the backend-specific rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Backend == BackendBadger && !c.Badger.InMemory && c.Badger.Path == "" {
		return errors.New("badger.path is required unless badger.in_memory is set")
	}
	return nil
}

package store

import "time"

// Config holds configuration for the Store.
type Config struct {
	// UniqueTable is the name of the unique constraints table.
	// Default: "places_unique_constraints"
	UniqueTable string

	// Breaker configures the circuit breaker wrapped around every DynamoDB call.
	Breaker BreakerConfig
}

// BreakerConfig controls when DynamoDB calls are short-circuited.
type BreakerConfig struct {
	// Disabled turns the circuit breaker off.
	Disabled bool

	// MaxRequests is the number of trial requests allowed while half-open.
	// Default: 3
	MaxRequests uint32

	// Interval is the cyclic period after which closed-state counts reset.
	// Default: 1m
	Interval time.Duration

	// Timeout is how long the breaker stays open before going half-open.
	// Default: 30s
	Timeout time.Duration

	// ConsecutiveFailures opens the breaker once reached.
	// Default: 5
	ConsecutiveFailures uint32
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		UniqueTable: "places_unique_constraints",
		Breaker: BreakerConfig{
			MaxRequests:         3,
			Interval:            time.Minute,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
		},
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.UniqueTable == "" {
		c.UniqueTable = "places_unique_constraints"
	}
	if c.Breaker.MaxRequests == 0 {
		c.Breaker.MaxRequests = 3
	}
	if c.Breaker.Interval <= 0 {
		c.Breaker.Interval = time.Minute
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = 30 * time.Second
	}
	if c.Breaker.ConsecutiveFailures == 0 {
		c.Breaker.ConsecutiveFailures = 5
	}
}

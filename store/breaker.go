package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/chandank04/your-places-backend/internal/metrics"
)

const breakerName = "dynamodb"

func newBreaker(cfg BreakerConfig, logger *zerolog.Logger) *gobreaker.CircuitBreaker[any] {
	if cfg.Disabled {
		return nil
	}
	metrics.StoreBreakerState.WithLabelValues(breakerName).Set(0)

	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: isHealthyOutcome,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.StoreBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
}

// isHealthyOutcome treats rejected conditions and caller cancellation as a
// working DynamoDB. Only transport and service faults count against the breaker.
func isHealthyOutcome(err error) bool {
	if err == nil {
		return true
	}
	var condErr *types.ConditionalCheckFailedException
	var txErr *types.TransactionCanceledException
	switch {
	case errors.As(err, &condErr), errors.As(err, &txErr):
		return true
	case errors.Is(err, context.Canceled):
		return true
	}
	return false
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// call runs fn through the store's circuit breaker.
func call[T any](s *Store, fn func() (T, error)) (T, error) {
	if s.breaker == nil {
		return fn()
	}
	out, err := s.breaker.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.StoreBreakerRejections.WithLabelValues(breakerName).Inc()
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	typed, _ := out.(T)
	return typed, err
}

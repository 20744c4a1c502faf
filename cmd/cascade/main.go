// Command cascade is the Lambda function attached to the users table stream.
// When a user is soft-deleted it soft-deletes the user's places and releases
// the user's unique email record.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"

	"github.com/chandank04/your-places-backend/bootstrap"
	"github.com/chandank04/your-places-backend/internal/config"
	"github.com/chandank04/your-places-backend/internal/logging"
	"github.com/chandank04/your-places-backend/stream"
)

func main() {
	logger := logging.New(logging.Config{})

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("load config")
		os.Exit(1)
	}
	logger = bootstrap.Logger(cfg).With().Str("service", "cascade").Logger()

	handler, err := newHandler(context.Background(), cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("open store")
		os.Exit(1)
	}
	lambda.Start(handler.HandleCascadeDelete)
}

// newHandler builds the stream handler over the DynamoDB store described by cfg.
func newHandler(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stream.Handler, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if cfg.Backend != config.BackendDynamoDB {
		return nil, fmt.Errorf("cascade requires the %s backend, got %q", config.BackendDynamoDB, cfg.Backend)
	}
	s, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return stream.NewHandler(s, logging.Component(logger, "stream")), nil
}

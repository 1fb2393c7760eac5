package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// NewStore builds the backend selected by cfg.Backend
func NewStore(ctx context.Context, cfg Config, logger zerolog.Logger) (Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		logger.Info().Msg("using in-memory store")
		return NewMemoryStore(), nil
	case BackendDynamo:
		store, err := NewDynamoDBStore(ctx, cfg.Dynamo, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendRedis:
		store, err := NewRedisStore(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

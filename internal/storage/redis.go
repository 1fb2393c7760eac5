package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dennisdiepolder/hostline/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	fieldUserID         = "userId"
	fieldRestaurantName = "restaurantName"
	fieldAgentID        = "agentId"
)

// RedisStore keeps profile fields in the hash user:{id} and analytics in
// user:{id}:analytics, one field per call ID. HSET on the analytics hash is
// additive, so concurrent merges for different calls never clobber each other.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("Redis store initialized")

	return newRedisStore(rdb, logger), nil
}

func newRedisStore(client *redis.Client, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.With().Str("component", "redis_store").Logger(),
	}
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func userKey(userID string) string      { return fmt.Sprintf("user:%s", userID) }
func analyticsKey(userID string) string { return fmt.Sprintf("user:%s:analytics", userID) }

func (s *RedisStore) GetUser(ctx context.Context, userID string) (*types.UserRecord, error) {
	var profileCmd, analyticsCmd *redis.MapStringStringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		profileCmd = pipe.HGetAll(ctx, userKey(userID))
		analyticsCmd = pipe.HGetAll(ctx, analyticsKey(userID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user record: %w", err)
	}

	profile := profileCmd.Val()
	if len(profile) == 0 {
		return nil, ErrNotFound
	}

	record := &types.UserRecord{
		UserID:         userID,
		RestaurantName: profile[fieldRestaurantName],
	}
	if agentID := profile[fieldAgentID]; agentID != "" {
		record.AgentData = &types.AgentProfile{AgentID: agentID}
	}

	record.Analytics, err = s.decodeAnalytics(analyticsCmd.Val())
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *RedisStore) PutUser(ctx context.Context, record types.UserRecord) error {
	key := userKey(record.UserID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldUserID, record.UserID,
			fieldRestaurantName, record.RestaurantName,
		)
		if record.HasAgent() {
			pipe.HSet(ctx, key, fieldAgentID, record.AgentData.AgentID)
		} else {
			pipe.HDel(ctx, key, fieldAgentID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save user record: %w", err)
	}
	return nil
}

func (s *RedisStore) MergeAnalytics(ctx context.Context, userID, callID string, record types.AnalyticsRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal analytics record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		// Creates the user lazily without touching existing profile fields
		pipe.HSetNX(ctx, userKey(userID), fieldUserID, userID)
		pipe.HSet(ctx, analyticsKey(userID), callID, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to merge analytics: %w", err)
	}
	return nil
}

func (s *RedisStore) ListAnalytics(ctx context.Context, userID string) (map[string]types.AnalyticsRecord, error) {
	var existsCmd *redis.IntCmd
	var analyticsCmd *redis.MapStringStringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		existsCmd = pipe.Exists(ctx, userKey(userID))
		analyticsCmd = pipe.HGetAll(ctx, analyticsKey(userID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get analytics: %w", err)
	}
	if existsCmd.Val() == 0 {
		return nil, ErrNotFound
	}
	return s.decodeAnalytics(analyticsCmd.Val())
}

func (s *RedisStore) decodeAnalytics(fields map[string]string) (map[string]types.AnalyticsRecord, error) {
	out := make(map[string]types.AnalyticsRecord, len(fields))
	for callID, raw := range fields {
		var rec types.AnalyticsRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal analytics for call %s: %w", callID, err)
		}
		out[callID] = rec
	}
	return out, nil
}

// TruncateAll deletes every user:* key
func (s *RedisStore) TruncateAll(ctx context.Context) error {
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "user:*", 500).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to scan user keys: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete user keys: %w", err)
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	s.logger.Info().Int("keys", deleted).Msg("redis store truncated")
	return nil
}

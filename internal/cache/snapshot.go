package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kursadbilgin/hookline/internal/domain"
)

const snapshotKeyPrefix = "hookline:app:"

// SnapshotLoader is the store read behind the cache.
type SnapshotLoader interface {
	GetSnapshot(ctx context.Context, orgID string, appID string) (*domain.ApplicationSnapshot, error)
}

// SnapshotCache keeps application snapshots in redis. A nil client disables
// caching and every fetch goes to the loader.
type SnapshotCache struct {
	client *redis.Client
	loader SnapshotLoader
	logger *zap.Logger
}

func NewSnapshotCache(client *redis.Client, loader SnapshotLoader, logger *zap.Logger) (*SnapshotCache, error) {
	if loader == nil {
		return nil, fmt.Errorf("snapshot loader is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SnapshotCache{
		client: client,
		loader: loader,
		logger: logger,
	}, nil
}

func snapshotKey(orgID string, appID string) string {
	return snapshotKeyPrefix + orgID + ":" + appID
}

// LayeredFetch returns the cached snapshot, falling back to the loader on a
// miss, an undecodable entry or a redis error. Loader errors are returned as is.
func (c *SnapshotCache) LayeredFetch(ctx context.Context, appID string, orgID string, ttl time.Duration) (*domain.ApplicationSnapshot, error) {
	key := snapshotKey(orgID, appID)

	if c.client != nil {
		raw, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var snapshot domain.ApplicationSnapshot
			decodeErr := json.Unmarshal(raw, &snapshot)
			if decodeErr == nil {
				return &snapshot, nil
			}
			c.logger.Warn("discarding undecodable snapshot cache entry", zap.String("key", key), zap.Error(decodeErr))
		case errors.Is(err, redis.Nil):
		default:
			c.logger.Warn("snapshot cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	snapshot, err := c.loader.GetSnapshot(ctx, orgID, appID)
	if err != nil {
		return nil, err
	}

	if c.client != nil && ttl > 0 {
		raw, err := json.Marshal(snapshot)
		if err != nil {
			return nil, fmt.Errorf("failed to encode snapshot: %w", err)
		}
		if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
			c.logger.Warn("snapshot cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	return snapshot, nil
}

// Invalidate drops the cached snapshot of an application.
func (c *SnapshotCache) Invalidate(ctx context.Context, orgID string, appID string) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, snapshotKey(orgID, appID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate snapshot cache: %w", err)
	}
	return nil
}

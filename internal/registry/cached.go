package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	id "converge/pkg/domain"
)

// CachedResolver fronts a Resolver with a Redis cache. Entity names and
// kinds change rarely; the TTL bounds how long a rename can lag. Cache
// failures degrade to the inner resolver, never to an error.
type CachedResolver struct {
	inner  Resolver
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedResolver(inner Resolver, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedResolver {
	return &CachedResolver{inner: inner, client: client, ttl: ttl, logger: logger}
}

func cacheKey(entityID id.EntityID) string {
	return "registry:entity:" + entityID.String()
}

func (r *CachedResolver) Get(ctx context.Context, entityID id.EntityID) (Entity, error) {
	raw, err := r.client.Get(ctx, cacheKey(entityID)).Bytes()
	if err == nil {
		var entity Entity
		if err := json.Unmarshal(raw, &entity); err == nil {
			return entity, nil
		}
		// fall through on corrupt payload
	} else if !errors.Is(err, redis.Nil) {
		r.logger.WarnContext(ctx, "registry cache read failed", "error", err)
	}

	entity, err := r.inner.Get(ctx, entityID)
	if err != nil {
		return Entity{}, err
	}

	if payload, err := json.Marshal(entity); err == nil {
		if err := r.client.Set(ctx, cacheKey(entityID), payload, r.ttl).Err(); err != nil {
			r.logger.WarnContext(ctx, "registry cache write failed", "error", err)
		}
	}
	return entity, nil
}

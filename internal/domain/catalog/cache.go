package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

const cacheKeyPrefix = "rx:catalog:name:"

// CachedCatalog is a read-through Redis cache in front of a Catalog's fuzzy
// name lookup. Redis failures are logged and the lookup falls through to the
// underlying catalog. Misses are not cached.
type CachedCatalog struct {
	next   Catalog
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedCatalog(next Catalog, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedCatalog {
	return &CachedCatalog{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "catalog_cache").Logger(),
	}
}

func cacheKey(name string) string {
	return cacheKeyPrefix + strings.ToLower(strings.TrimSpace(name))
}

func (c *CachedCatalog) FindByName(ctx context.Context, name string) (*Medicine, error) {
	key := cacheKey(name)

	val, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var m Medicine
		if jerr := json.Unmarshal(val, &m); jerr == nil {
			return &m, nil
		}
		c.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn().Err(err).Str("key", key).Msg("catalog cache read failed")
	}

	m, err := c.next.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(m)
	if err == nil {
		err = c.client.Set(ctx, key, data, c.ttl).Err()
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
	}
	return m, nil
}

// Invalidate drops every cached lookup. Called after catalog writes since a
// new medicine can change which entry a name matches first.
func (c *CachedCatalog) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, cacheKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Ping is the health check for the cache.
func (c *CachedCatalog) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

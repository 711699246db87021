package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/skatterlabs/skatter/internal/config"
	"github.com/skatterlabs/skatter/internal/metrics"
	"github.com/skatterlabs/skatter/internal/query"
)

const redisPingTimeout = 1 * time.Second

// redisCache shares results between broker replicas. Entries are JSON
// encoded and expire server-side via the key TTL.
type redisCache struct {
	cli    *redis.Client
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

func NewRedis(cfg config.Redis, ttl time.Duration, logger zerolog.Logger) (Cache, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, err
	}

	return &redisCache{
		cli:    cli,
		ttl:    ttl,
		prefix: cfg.KeyPrefix,
		logger: logger.With().Str("component", "cache").Logger(),
	}, nil
}

func (c *redisCache) Get(ctx context.Context, fingerprint string) (query.ReducedResult, bool) {
	data, err := c.cli.Get(ctx, c.key(fingerprint)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Msg("Result cache lookup failed")
		}
		metrics.NewCacheLookup(false)
		return query.ReducedResult{}, false
	}

	var result query.ReducedResult
	if err = json.Unmarshal(data, &result); err != nil {
		c.logger.Warn().Err(err).Msg("Dropping malformed result cache entry")
		metrics.NewCacheLookup(false)
		return query.ReducedResult{}, false
	}

	metrics.NewCacheLookup(true)
	return result, true
}

func (c *redisCache) Put(ctx context.Context, fingerprint string, result query.ReducedResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to encode result cache entry")
		return
	}

	if err = c.cli.Set(ctx, c.key(fingerprint), data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("Result cache write failed")
	}
}

func (c *redisCache) Shutdown() {
	_ = c.cli.Close()
}

func (c *redisCache) key(fingerprint string) string {
	return c.prefix + fingerprint
}

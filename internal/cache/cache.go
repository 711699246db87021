// Package cache stores reduced query results keyed by fingerprint.
// The fingerprint mixes in the routing epoch, so a topology change
// invalidates stale entries by changing the key instead of flushing.
package cache

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/skatterlabs/skatter/internal/config"
	"github.com/skatterlabs/skatter/internal/query"
)

// Cache is a best-effort result store. Lookups and writes never fail
// the query: a broken backend degrades to a miss.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (query.ReducedResult, bool)
	Put(ctx context.Context, fingerprint string, result query.ReducedResult)
	Shutdown()
}

func New(cfg config.Cache, logger zerolog.Logger) (Cache, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	switch cfg.Driver {
	case config.CacheDriverMemory:
		return NewMemory(cfg.TTL, cfg.MaxEntries), nil
	case config.CacheDriverRedis:
		return NewRedis(cfg.Redis, cfg.TTL, logger)
	}

	return nil, fmt.Errorf("cache: unknown driver %q", cfg.Driver)
}

type noopCache struct{}

// NewNoop returns the cache used when caching is disabled.
func NewNoop() Cache {
	return noopCache{}
}

func (noopCache) Get(_ context.Context, _ string) (query.ReducedResult, bool) {
	return query.ReducedResult{}, false
}

func (noopCache) Put(_ context.Context, _ string, _ query.ReducedResult) {}

func (noopCache) Shutdown() {}

// Package app wires configuration, storage and the request-scoped services
// into one container the HTTP layer pulls from.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/pianoemotion/crmgate/internal/cache"
	"github.com/pianoemotion/crmgate/internal/config"
	"github.com/pianoemotion/crmgate/internal/identity"
	"github.com/pianoemotion/crmgate/internal/limits"
	"github.com/pianoemotion/crmgate/internal/observability"
	"github.com/pianoemotion/crmgate/internal/portal"
	"github.com/pianoemotion/crmgate/internal/store"
	"github.com/pianoemotion/crmgate/internal/tenantctx"
)

const defaultSweepInterval = 5 * time.Minute

// Container aggregates runtime dependencies for handlers.
type Container struct {
	Config         *config.Config
	DBPool         *pgxpool.Pool
	Redis          *redis.Client
	Store          *store.Store
	Resolver       *identity.Resolver
	TenantBuilder  *tenantctx.Builder
	RateLimiter    *limits.RateLimiter
	Cache          *cache.Cache
	PortalVerifier *portal.Verifier
	Observability  *observability.Provider

	// In-process stores needing a periodic sweep; nil when Redis backs them.
	limitSweeper *limits.MemoryStore
	cacheSweeper *cache.MemoryStore
}

// NewContainer builds a dependency container from the provided primitives.
// redisClient may be nil, in which case the limiter and cache run on their
// in-process stores.
func NewContainer(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("db pool is required")
	}

	container := &Container{
		Config: cfg,
		DBPool: pool,
		Redis:  redisClient,
	}

	container.Store = store.New(pool)

	verifiers := make([]identity.Verifier, 0, 2)
	if cfg.Identity.Session.Enabled {
		sessionVerifier, err := identity.NewSessionVerifier(ctx, cfg.Identity.Session)
		if err != nil {
			return nil, fmt.Errorf("init session verifier: %w", err)
		}
		verifiers = append(verifiers, sessionVerifier)
	}
	if cfg.Identity.Legacy.Enabled {
		verifiers = append(verifiers, identity.NewLegacyVerifier(cfg.Identity.Legacy))
	}
	container.Resolver = identity.NewResolver(verifiers, container.Store.Users, cfg.Identity.OwnerSubject, slog.Default())
	container.TenantBuilder = tenantctx.NewBuilder(container.Store.Users)

	if redisClient != nil {
		container.RateLimiter = limits.NewRateLimiter(limits.NewRedisStore(redisClient), cfg.RateLimits)
		container.Cache = cache.New(cache.NewRedisStore(redisClient, cfg.Cache.KeyPrefix), cfg.Cache.DefaultTTL, cfg.Cache.Enabled)
	} else {
		limitStore := limits.NewMemoryStore()
		cacheStore := cache.NewMemoryStore()
		container.limitSweeper = limitStore
		container.cacheSweeper = cacheStore
		container.RateLimiter = limits.NewRateLimiter(limitStore, cfg.RateLimits)
		container.Cache = cache.New(cacheStore, cfg.Cache.DefaultTTL, cfg.Cache.Enabled)
	}

	if cfg.Portal.Enabled {
		container.PortalVerifier = portal.NewVerifier(container.Store.PortalTokens)
	}

	obsProvider, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}
	container.Observability = obsProvider

	return container, nil
}

// StartBackground launches the sweepers for the in-process stores. It is a
// no-op when Redis handles expiry.
func (c *Container) StartBackground(ctx context.Context) {
	interval := c.Config.RateLimits.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if c.limitSweeper != nil {
		go c.limitSweeper.RunSweeper(ctx, interval)
	}
	if c.cacheSweeper != nil {
		go c.cacheSweeper.RunSweeper(ctx, interval)
	}
}

// Shutdown flushes observability pipelines. Pool and Redis lifecycles stay
// with the caller that opened them.
func (c *Container) Shutdown(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.Observability.Shutdown(ctx)
}

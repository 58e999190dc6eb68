// Package httpserver is the only layer that speaks HTTP. Every API request
// runs identity resolution, rate-limit admission and tenant context
// construction, in that order, before a handler body executes.
package httpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pianoemotion/crmgate/internal/app"
	"github.com/pianoemotion/crmgate/internal/cache"
	"github.com/pianoemotion/crmgate/internal/config"
	"github.com/pianoemotion/crmgate/internal/identity"
	"github.com/pianoemotion/crmgate/internal/limits"
	"github.com/pianoemotion/crmgate/internal/observability"
	"github.com/pianoemotion/crmgate/internal/portal"
	"github.com/pianoemotion/crmgate/internal/store"
	"github.com/pianoemotion/crmgate/internal/tenantctx"
)

type identityResolver interface {
	Resolve(ctx context.Context, creds identity.Credentials) (identity.Identity, error)
}

type tenantSource interface {
	Build(ctx context.Context, subject string) (*tenantctx.Context, error)
}

type clientService interface {
	List(ctx context.Context, tenantID int64) ([]store.Client, error)
	Get(ctx context.Context, tenantID int64, id string) (store.Client, error)
	Create(ctx context.Context, tenantID int64, input store.ClientInput) (store.Client, error)
	Update(ctx context.Context, tenantID int64, id string, input store.ClientInput) (store.Client, error)
	Delete(ctx context.Context, tenantID int64, id string) error
}

type portalTokenService interface {
	Issue(ctx context.Context, tenantID int64, clientID, prefix, secretHash string, expiresAt time.Time) (string, error)
	Revoke(ctx context.Context, tenantID int64, id string) error
	ListForClient(ctx context.Context, tenantID int64, clientID string) ([]portal.TokenRecord, error)
}

type portalAccess interface {
	Verify(ctx context.Context, token string) (portal.Principal, error)
}

type userAdminService interface {
	AssignTenant(ctx context.Context, subject string, tenantID int64) error
	UpdateRole(ctx context.Context, tenantID int64, subject, role string) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// deps is the seam between the router and the container; tests provide
// stubs here instead of a database.
type deps struct {
	cfg          *config.Config
	resolver     identityResolver
	tenants      tenantSource
	limiter      *limits.RateLimiter
	cache        *cache.Cache
	clients      clientService
	portalTokens portalTokenService
	portal       portalAccess
	users        userAdminService
	obs          *observability.Provider
	db           pinger
	redis        *redis.Client
}

// Server wraps the Fiber app and configuration.
type Server struct {
	app *fiber.App
	cfg *config.Config
}

// New constructs a server with the full middleware chain and routes ready.
func New(container *app.Container) (*Server, error) {
	if container == nil {
		return nil, fmt.Errorf("dependency container is required")
	}
	cfg := container.Config
	if cfg == nil {
		return nil, fmt.Errorf("container missing config")
	}

	d := deps{
		cfg:      cfg,
		resolver: container.Resolver,
		tenants:  container.TenantBuilder,
		limiter:  container.RateLimiter,
		cache:    container.Cache,
		obs:      container.Observability,
		redis:    container.Redis,
	}
	if container.Store != nil {
		d.clients = container.Store.Clients
		d.portalTokens = container.Store.PortalTokens
		d.users = container.Store.Users
	}
	if container.PortalVerifier != nil {
		d.portal = container.PortalVerifier
	}
	if container.DBPool != nil {
		d.db = container.DBPool
	}

	return &Server{app: newRouter(d), cfg: cfg}, nil
}

func newRouter(d deps) *fiber.App {
	bodyLimit := d.cfg.Server.BodyLimitMB * 1024 * 1024
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ServerHeader:          "crmgate",
		BodyLimit:             bodyLimit,
		ReadTimeout:           d.cfg.Server.ReadTimeout,
		IdleTimeout:           d.cfg.Server.IdleTimeout,
		ReadBufferSize:        4 * 1024,
		WriteBufferSize:       4 * 1024,
	})

	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(recover.New())

	if d.obs != nil {
		app.Use(func(c *fiber.Ctx) error {
			start := time.Now()
			err := c.Next()
			route := ""
			if r := c.Route(); r != nil {
				route = r.Path
			}
			if route == "" {
				route = c.Path()
			}
			d.obs.RecordHTTPRequest(c.UserContext(), c.Method(), route, c.Response().StatusCode(), time.Since(start))
			return err
		})
	}

	if d.obs != nil && d.obs.TracerProvider() != nil {
		tracer := otel.Tracer("crmgate/http")
		app.Use(func(c *fiber.Ctx) error {
			spanCtx, span := tracer.Start(c.UserContext(), c.Method()+" "+c.Path())
			c.SetUserContext(spanCtx)
			err := c.Next()
			route := ""
			if r := c.Route(); r != nil {
				route = r.Path
			}
			span.SetAttributes(
				attribute.String("http.method", c.Method()),
				attribute.String("http.route", route),
				attribute.Int("http.status_code", c.Response().StatusCode()),
			)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else if status := c.Response().StatusCode(); status >= 500 {
				span.SetStatus(codes.Error, fmt.Sprintf("status %d", status))
			} else {
				span.SetStatus(codes.Ok, "OK")
			}
			span.End()
			return err
		})
	}

	if d.obs != nil {
		if handler := d.obs.PrometheusHandler(); handler != nil {
			app.Get("/metrics", adaptor.HTTPHandler(handler))
		}
	}

	registerHealthRoutes(app, d)
	registerClientRoutes(app, d)
	registerAdminRoutes(app, d)
	registerPortalRoutes(app, d)

	return app
}

// Listen blocks until context cancellation or a fatal listen error occurs.
func (s *Server) Listen(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(s.cfg.Server.ListenAddr)
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.Server.GracefulShutdownDelay
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := s.app.ShutdownWithContext(shutdownCtx)
		if err == nil {
			err = <-errCh
		}
		return err
	case err := <-errCh:
		return err
	}
}

func registerHealthRoutes(app *fiber.App, d deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		checks := make(map[string]fiber.Map)
		overall := "ok"

		if d.db != nil {
			start := time.Now()
			err := d.db.Ping(ctx)
			latency := time.Since(start)
			check := fiber.Map{
				"status":     "ok",
				"latency_ms": latency.Milliseconds(),
			}
			if err != nil {
				check["status"] = "error"
				check["error"] = err.Error()
				overall = "degraded"
			}
			checks["postgres"] = check
		}

		if d.redis != nil {
			start := time.Now()
			err := d.redis.Ping(ctx).Err()
			latency := time.Since(start)
			check := fiber.Map{
				"status":     "ok",
				"latency_ms": latency.Milliseconds(),
			}
			if err != nil {
				check["status"] = "error"
				check["error"] = err.Error()
				overall = "degraded"
			}
			checks["redis"] = check
		}

		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": overall,
			"checks": checks,
		})
	})
}

package httpserver

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/pianoemotion/crmgate/internal/httpserver/httputil"
	"github.com/pianoemotion/crmgate/internal/identity"
	"github.com/pianoemotion/crmgate/internal/limits"
	"github.com/pianoemotion/crmgate/internal/rbac"
	"github.com/pianoemotion/crmgate/internal/tenantctx"
)

const (
	identityLocalsKey = "caller"
	authBearerPrefix  = "bearer "
)

// credentialsFromRequest gathers the cookies and bearer token the verifier
// chain may inspect.
func credentialsFromRequest(c *fiber.Ctx, d deps) identity.Credentials {
	cookies := make(map[string]string, 2)
	for _, name := range []string{d.cfg.Identity.Session.CookieName, d.cfg.Identity.Legacy.CookieName} {
		if name == "" {
			continue
		}
		if value := c.Cookies(name); value != "" {
			cookies[name] = value
		}
	}
	return identity.Credentials{
		Cookies: cookies,
		Bearer:  bearerToken(c),
	}
}

func bearerToken(c *fiber.Ctx) string {
	raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if raw == "" || !strings.HasPrefix(strings.ToLower(raw), authBearerPrefix) {
		return ""
	}
	return strings.TrimSpace(raw[len(authBearerPrefix):])
}

// requireIdentity resolves the caller and stores the identity in locals.
// Unidentified requests stop here with 401.
func requireIdentity(d deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := d.resolver.Resolve(c.UserContext(), credentialsFromRequest(c, d))
		if errors.Is(err, identity.ErrUpstreamUnavailable) {
			return httputil.WriteError(c, fiber.StatusServiceUnavailable, "identity provider unavailable")
		}
		if err != nil {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "Not authenticated")
		}
		c.Locals(identityLocalsKey, id)
		return c.Next()
	}
}

func callerIdentity(c *fiber.Ctx) (identity.Identity, bool) {
	id, ok := c.Locals(identityLocalsKey).(identity.Identity)
	return id, ok
}

// admit applies the named rate-limit bucket. The counter key uses the
// verified subject when identity ran earlier in the chain, the client IP
// otherwise. Headers are written on every decision, including rejections.
func admit(d deps, bucket string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		subject := ""
		if id, ok := callerIdentity(c); ok {
			subject = id.Subject
		}
		key := limits.Key(bucket, subject, c.IP())

		result, err := d.limiter.Allow(c.UserContext(), bucket, key)
		if err != nil && !errors.Is(err, limits.ErrLimitExceeded) {
			return httputil.WriteError(c, fiber.StatusInternalServerError, "rate limit check failed")
		}
		for name, value := range result.Headers() {
			c.Set(name, value)
		}
		if errors.Is(err, limits.ErrLimitExceeded) {
			d.obs.RecordRateLimitRejection(bucket)
			return httputil.WriteRateLimited(c, result.RetryAfter)
		}
		return c.Next()
	}
}

// requireTenant builds the tenant context for the resolved caller and makes
// it available both in locals and in the request context. Construction is
// all-or-nothing; there is no fallback tenant.
func requireTenant(d deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := callerIdentity(c)
		if !ok {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "Not authenticated")
		}

		tc, err := d.tenants.Build(c.UserContext(), id.Subject)
		switch {
		case errors.Is(err, tenantctx.ErrNotProvisioned):
			return httputil.WriteError(c, fiber.StatusForbidden, "user not provisioned")
		case errors.Is(err, tenantctx.ErrTenantUnavailable):
			return httputil.WriteError(c, fiber.StatusForbidden, "tenant context unavailable")
		case err != nil:
			return httputil.WriteError(c, fiber.StatusInternalServerError, "tenant resolution failed")
		}

		c.Locals(tenantctx.FiberLocalsKey(), tc)
		c.SetUserContext(tenantctx.WithContext(c.UserContext(), tc))
		return c.Next()
	}
}

func tenantFromFiber(c *fiber.Ctx) (*tenantctx.Context, bool) {
	tc, ok := c.Locals(tenantctx.FiberLocalsKey()).(*tenantctx.Context)
	return tc, ok && tc != nil
}

// requireRole gates a route on the caller's role from the tenant context.
func requireRole(required rbac.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tc, ok := tenantFromFiber(c)
		if !ok {
			return httputil.WriteError(c, fiber.StatusForbidden, "forbidden")
		}
		if err := rbac.Ensure(tc.Role, required); err != nil {
			return httputil.WriteError(c, fiber.StatusForbidden, "forbidden")
		}
		return c.Next()
	}
}

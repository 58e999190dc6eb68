package httpserver

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/pianoemotion/crmgate/internal/httpserver/httputil"
	"github.com/pianoemotion/crmgate/internal/portal"
	"github.com/pianoemotion/crmgate/internal/store"
)

const (
	bucketPortal       = "portal"
	portalPrincipalKey = "portalPrincipal"
)

// registerPortalRoutes mounts the read-only client-portal surface. Portal
// callers authenticate with a pt- token instead of a user identity, so the
// chain here is token verification then admission on the portal bucket.
func registerPortalRoutes(app *fiber.App, d deps) {
	if d.portal == nil {
		return
	}

	group := app.Group("/portal", requirePortalToken(d), admit(d, bucketPortal))
	group.Get("/me", portalProfile(d))
}

func requirePortalToken(d deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "Not authenticated")
		}

		principal, err := d.portal.Verify(c.UserContext(), token)
		if errors.Is(err, portal.ErrInvalidToken) {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "Not authenticated")
		}
		if err != nil {
			return httputil.WriteError(c, fiber.StatusInternalServerError, "token verification failed")
		}

		c.Locals(portalPrincipalKey, principal)
		return c.Next()
	}
}

func portalPrincipal(c *fiber.Ctx) (portal.Principal, bool) {
	p, ok := c.Locals(portalPrincipalKey).(portal.Principal)
	return p, ok
}

// portalProfile returns the client record the token is scoped to. The
// tenant and client ids come from the verified token, never from input.
func portalProfile(d deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := portalPrincipal(c)
		if !ok {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "Not authenticated")
		}

		client, err := d.clients.Get(c.UserContext(), principal.TenantID, principal.ClientID)
		if errors.Is(err, store.ErrClientNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "client not found")
		}
		if err != nil {
			return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to load client")
		}
		return c.JSON(client)
	}
}

package httpserver

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/pianoemotion/crmgate/internal/httpserver/httputil"
	"github.com/pianoemotion/crmgate/internal/rbac"
	"github.com/pianoemotion/crmgate/internal/store"
	"github.com/pianoemotion/crmgate/internal/tenantctx"
)

// registerAdminRoutes mounts tenant administration. The only operation today
// is pulling a provisioned user into the caller's own tenant; admins cannot
// place users into tenants they do not belong to.
func registerAdminRoutes(app *fiber.App, d deps) {
	if d.users == nil {
		return
	}

	group := app.Group("/api/admin", requireIdentity(d))
	group.Post("/users/:subject/tenant", admit(d, bucketWrite), requireTenant(d), requireRole(rbac.RoleAdmin), assignUserTenant(d))
	group.Put("/users/:subject/role", admit(d, bucketWrite), requireTenant(d), requireRole(rbac.RoleAdmin), updateUserRole(d))
}

func assignUserTenant(d deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tc, ok := tenantFromFiber(c)
		if !ok {
			return httputil.WriteError(c, fiber.StatusForbidden, "tenant context unavailable")
		}
		subject := strings.TrimSpace(c.Params("subject"))
		if subject == "" {
			return httputil.WriteError(c, fiber.StatusBadRequest, "subject required")
		}

		err := d.users.AssignTenant(c.UserContext(), subject, tc.TenantID)
		switch {
		case errors.Is(err, store.ErrUserNotFound):
			return httputil.WriteError(c, fiber.StatusNotFound, "user not found")
		case errors.Is(err, tenantctx.ErrTenantUnavailable):
			return httputil.WriteError(c, fiber.StatusForbidden, "tenant context unavailable")
		case err != nil:
			return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to assign tenant")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func updateUserRole(d deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tc, ok := tenantFromFiber(c)
		if !ok {
			return httputil.WriteError(c, fiber.StatusForbidden, "tenant context unavailable")
		}
		subject := strings.TrimSpace(c.Params("subject"))
		if subject == "" {
			return httputil.WriteError(c, fiber.StatusBadRequest, "subject required")
		}

		var payload struct {
			Role string `json:"role"`
		}
		if err := c.BodyParser(&payload); err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
		}
		role, ok := rbac.ParseRole(payload.Role)
		if !ok {
			return httputil.WriteError(c, fiber.StatusBadRequest, "unknown role")
		}

		err := d.users.UpdateRole(c.UserContext(), tc.TenantID, subject, string(role))
		switch {
		case errors.Is(err, store.ErrUserNotFound):
			return httputil.WriteError(c, fiber.StatusNotFound, "user not found")
		case errors.Is(err, tenantctx.ErrTenantUnavailable):
			return httputil.WriteError(c, fiber.StatusForbidden, "tenant context unavailable")
		case err != nil:
			return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to update role")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

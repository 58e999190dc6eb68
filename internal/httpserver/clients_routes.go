package httpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pianoemotion/crmgate/internal/cache"
	"github.com/pianoemotion/crmgate/internal/httpserver/httputil"
	"github.com/pianoemotion/crmgate/internal/portal"
	"github.com/pianoemotion/crmgate/internal/rbac"
	"github.com/pianoemotion/crmgate/internal/store"
	"github.com/pianoemotion/crmgate/internal/tenantctx"
)

const (
	cachePrefix  = "api"
	bucketAPI    = "api"
	bucketWrite  = "write"
	bucketExpand = "expensive"
)

type clientPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Notes string `json:"notes"`
}

func registerClientRoutes(app *fiber.App, d deps) {
	if d.clients == nil {
		return
	}

	group := app.Group("/api/clients", requireIdentity(d))

	group.Get("/", admit(d, bucketAPI), requireTenant(d), listClients(d))
	group.Get("/:id", admit(d, bucketAPI), requireTenant(d), getClient(d))
	group.Post("/", admit(d, bucketWrite), requireTenant(d), requireRole(rbac.RoleTechnician), createClient(d))
	group.Put("/:id", admit(d, bucketWrite), requireTenant(d), requireRole(rbac.RoleTechnician), updateClient(d))
	group.Delete("/:id", admit(d, bucketWrite), requireTenant(d), requireRole(rbac.RoleAdmin), deleteClient(d))

	if d.portalTokens != nil {
		group.Post("/:id/portal-tokens", admit(d, bucketExpand), requireTenant(d), requireRole(rbac.RoleAdmin), issuePortalToken(d))
		group.Get("/:id/portal-tokens", admit(d, bucketAPI), requireTenant(d), requireRole(rbac.RoleAdmin), listPortalTokens(d))
		group.Delete("/:id/portal-tokens/:tokenID", admit(d, bucketWrite), requireTenant(d), requireRole(rbac.RoleAdmin), revokePortalToken(d))
	}
}

func tenantScope(tc *tenantctx.Context) string {
	return fmt.Sprintf("t%d", tc.TenantID)
}

func listClients(d deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tc, ok := tenantFromFiber(c)
		if !ok {
			return httputil.WriteError(c, fiber.StatusForbidden, "tenant context unavailable")
		}

		key := cache.RequestKey(cachePrefix, "clients.list", tenantScope(tc), nil)
		hit := true
		clients, err := cache.GetOrCompute(c.UserContext(), d.cache, key, 0, func(ctx context.Context) ([]store.Client, error) {
			hit = false
			return d.clients.List(ctx, tc.TenantID)
		})
		if err != nil {
			return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to list clients")
		}
		d.obs.RecordCacheLookup(hit)
		return c.JSON(fiber.Map{"clients": clients})
	}
}

func getClient(d deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tc, ok := tenantFromFiber(c)
		if !ok {
			return httputil.WriteError(c, fiber.StatusForbidden, "tenant context unavailable")
		}
		id := strings.TrimSpace(c.Params("id"))
		if id == "" {
			return httputil.WriteError(c, fiber.StatusBadRequest, "client id required")
		}

		key := cache.RequestKey(cachePrefix, "clients.get", tenantScope(tc), map[string]any{"id": id})
		hit := true
		client, err := cache.GetOrCompute(c.UserContext(), d.cache, key, 0, func(ctx context.Context) (store.Client, error) {
			hit = false
			return d.clients.Get(ctx, tc.TenantID, id)
		})
		if errors.Is(err, store.ErrClientNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "client not found")
		}
		if err != nil {
			return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to load client")
		}
		d.obs.RecordCacheLookup(hit)
		return c.JSON(client)
	}
}

func createClient(d deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tc, ok := tenantFromFiber(c)
		if !ok {
			return httputil.WriteError(c, fiber.StatusForbidden, "tenant context unavailable")
		}

		var payload clientPayload
		if err := c.BodyParser(&payload); err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
		}
		if strings.TrimSpace(payload.Name) == "" {
			return httputil.WriteError(c, fiber.StatusBadRequest, "client name required")
		}

		client, err := d.clients.Create(c.UserContext(), tc.TenantID, store.ClientInput{
			Name:  strings.TrimSpace(payload.Name),
			Email: strings.TrimSpace(payload.Email),
			Phone: strings.TrimSpace(payload.Phone),
			Notes: payload.Notes,
		})
		if err != nil {
			return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to create client")
		}

		invalidateClientCache(c, d, tc)
		return c.Status(fiber.StatusCreated).JSON(client)
	}
}

func updateClient(d deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tc, ok := tenantFromFiber(c)
		if !ok {
			return httputil.WriteError(c, fiber.StatusForbidden, "tenant context unavailable")
		}
		id := strings.TrimSpace(c.Params("id"))
		if id == "" {
			return httputil.WriteError(c, fiber.StatusBadRequest, "client id required")
		}

		var payload clientPayload
		if err := c.BodyParser(&payload); err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
		}
		if strings.TrimSpace(payload.Name) == "" {
			return httputil.WriteError(c, fiber.StatusBadRequest, "client name required")
		}

		client, err := d.clients.Update(c.UserContext(), tc.TenantID, id, store.ClientInput{
			Name:  strings.TrimSpace(payload.Name),
			Email: strings.TrimSpace(payload.Email),
			Phone: strings.TrimSpace(payload.Phone),
			Notes: payload.Notes,
		})
		if errors.Is(err, store.ErrClientNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "client not found")
		}
		if err != nil {
			return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to update client")
		}

		invalidateClientCache(c, d, tc)
		return c.JSON(client)
	}
}

func deleteClient(d deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tc, ok := tenantFromFiber(c)
		if !ok {
			return httputil.WriteError(c, fiber.StatusForbidden, "tenant context unavailable")
		}
		id := strings.TrimSpace(c.Params("id"))
		if id == "" {
			return httputil.WriteError(c, fiber.StatusBadRequest, "client id required")
		}

		err := d.clients.Delete(c.UserContext(), tc.TenantID, id)
		if errors.Is(err, store.ErrClientNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "client not found")
		}
		if err != nil {
			return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to delete client")
		}

		invalidateClientCache(c, d, tc)
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// invalidateClientCache drops every cached clients read for the tenant
// before the mutation response goes out. The scope segment is either the
// last key part (list keys) or followed by an input hash (get keys); two
// patterns keep t1's mutation from sweeping t10, t12 and so on.
func invalidateClientCache(c *fiber.Ctx, d deps, tc *tenantctx.Context) {
	scope := tenantScope(tc)
	d.cache.InvalidatePattern(c.UserContext(), fmt.Sprintf("%s:clients.*:%s", cachePrefix, scope))
	d.cache.InvalidatePattern(c.UserContext(), fmt.Sprintf("%s:clients.*:%s:*", cachePrefix, scope))
}

func issuePortalToken(d deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tc, ok := tenantFromFiber(c)
		if !ok {
			return httputil.WriteError(c, fiber.StatusForbidden, "tenant context unavailable")
		}
		clientID := strings.TrimSpace(c.Params("id"))
		if clientID == "" {
			return httputil.WriteError(c, fiber.StatusBadRequest, "client id required")
		}
		if _, err := d.clients.Get(c.UserContext(), tc.TenantID, clientID); err != nil {
			if errors.Is(err, store.ErrClientNotFound) {
				return httputil.WriteError(c, fiber.StatusNotFound, "client not found")
			}
			return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to load client")
		}

		prefix, secret, token, err := portal.GenerateToken()
		if err != nil {
			return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to generate token")
		}
		hash, err := portal.HashSecret(secret)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to generate token")
		}

		ttl := d.cfg.Portal.TokenTTL
		if ttl <= 0 {
			ttl = 30 * 24 * time.Hour
		}
		expiresAt := time.Now().Add(ttl)

		id, err := d.portalTokens.Issue(c.UserContext(), tc.TenantID, clientID, prefix, hash, expiresAt)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to issue token")
		}

		// The full token is returned exactly once.
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"id":        id,
			"token":     token,
			"expiresAt": expiresAt,
		})
	}
}

// listPortalTokens returns token metadata only; secrets and their hashes
// never leave the store layer.
func listPortalTokens(d deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tc, ok := tenantFromFiber(c)
		if !ok {
			return httputil.WriteError(c, fiber.StatusForbidden, "tenant context unavailable")
		}
		clientID := strings.TrimSpace(c.Params("id"))
		if clientID == "" {
			return httputil.WriteError(c, fiber.StatusBadRequest, "client id required")
		}

		records, err := d.portalTokens.ListForClient(c.UserContext(), tc.TenantID, clientID)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to list tokens")
		}

		tokens := make([]fiber.Map, 0, len(records))
		for _, record := range records {
			entry := fiber.Map{
				"id":        record.ID,
				"expiresAt": record.ExpiresAt,
			}
			if record.RevokedAt != nil {
				entry["revokedAt"] = *record.RevokedAt
			}
			tokens = append(tokens, entry)
		}
		return c.JSON(fiber.Map{"tokens": tokens})
	}
}

func revokePortalToken(d deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tc, ok := tenantFromFiber(c)
		if !ok {
			return httputil.WriteError(c, fiber.StatusForbidden, "tenant context unavailable")
		}
		tokenID := strings.TrimSpace(c.Params("tokenID"))
		if tokenID == "" {
			return httputil.WriteError(c, fiber.StatusBadRequest, "token id required")
		}

		err := d.portalTokens.Revoke(c.UserContext(), tc.TenantID, tokenID)
		if errors.Is(err, store.ErrPortalTokenNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "token not found")
		}
		if err != nil {
			return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to revoke token")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

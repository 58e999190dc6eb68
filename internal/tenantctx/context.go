package tenantctx

import (
	"context"
	"errors"
)

type contextKey string

const fiberLocalsKey = "tenantctx"

// Key is the typed context key used for storing the tenant Context.
var Key contextKey = "crmgate/tenantctx"

var (
	// ErrNotProvisioned is returned when a verified identity has no local user record.
	ErrNotProvisioned = errors.New("user not provisioned")
	// ErrTenantUnavailable is returned when a user record carries no usable tenant id.
	// Construction never falls back to a shared or default tenant.
	ErrTenantUnavailable = errors.New("tenant context unavailable")
)

// Context captures the tenant scope resolved for one request. It is built once
// after identity resolution and is immutable for the remainder of the request;
// every downstream data operation must be filtered by TenantID.
type Context struct {
	UserID   string
	TenantID int64
	Role     string
}

// New validates the tenant invariant and returns an immutable Context.
// A zero or negative tenant id fails closed.
func New(userID string, tenantID int64, role string) (*Context, error) {
	if tenantID <= 0 {
		return nil, ErrTenantUnavailable
	}
	return &Context{UserID: userID, TenantID: tenantID, Role: role}, nil
}

// WithContext embeds the tenant context into the parent context.
func WithContext(parent context.Context, tc *Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, Key, tc)
}

// FromContext retrieves the tenant context if present.
func FromContext(ctx context.Context) (*Context, bool) {
	if ctx == nil {
		return nil, false
	}
	tc, ok := ctx.Value(Key).(*Context)
	return tc, ok
}

// FiberLocalsKey returns the key used in fiber.Locals for tenant context storage.
func FiberLocalsKey() string {
	return fiberLocalsKey
}

package tenantctx

import (
	"context"
	"fmt"
)

// UserRecord is the slice of the local user row the builder needs.
type UserRecord struct {
	UserID   string
	TenantID int64
	Role     string
}

// UserSource resolves a verified subject to its local user record.
// The bool reports whether the record exists; errors are reserved for
// infrastructure failures.
type UserSource interface {
	LookupBySubject(ctx context.Context, subject string) (UserRecord, bool, error)
}

// Builder resolves which tenant a verified identity belongs to.
type Builder struct {
	users UserSource
}

func NewBuilder(users UserSource) *Builder {
	return &Builder{users: users}
}

// Build produces the immutable tenant context for a verified subject.
// Construction is all-or-nothing: a missing user record or an unusable
// tenant id fails closed and no partial context is ever returned.
func (b *Builder) Build(ctx context.Context, subject string) (*Context, error) {
	if b == nil || b.users == nil {
		return nil, fmt.Errorf("tenant builder not initialized")
	}
	record, found, err := b.users.LookupBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !found {
		return nil, ErrNotProvisioned
	}
	return New(record.UserID, record.TenantID, record.Role)
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pianoemotion/crmgate/internal/identity"
	"github.com/pianoemotion/crmgate/internal/tenantctx"
)

// ErrUserNotFound is returned when a subject has no provisioned row.
var ErrUserNotFound = errors.New("user not found")

type UserStore struct {
	pool *pgxpool.Pool
}

// ensureUserSQL provisions the user row on first login. The insert and the
// conflict update are one statement so concurrent first logins for the same
// subject cannot race. An existing row keeps its tenant and role, with one
// exception: the owner subject arrives with the admin role and the conflict
// update must apply the promotion, never the reverse.
const ensureUserSQL = `
	INSERT INTO users (subject, email, name, role, last_signed_in)
	VALUES ($1, $2, $3, $4, NOW())
	ON CONFLICT (subject) DO UPDATE SET
		email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
		name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
		role = CASE WHEN EXCLUDED.role = 'admin' THEN 'admin' ELSE users.role END,
		last_signed_in = NOW()
`

func (s *UserStore) EnsureUser(ctx context.Context, id identity.Identity, role string) error {
	if _, err := s.pool.Exec(ctx, ensureUserSQL, id.Subject, id.Email, id.Name, role); err != nil {
		return fmt.Errorf("upsert user %s: %w", id.Subject, err)
	}
	return nil
}

// LookupBySubject implements tenantctx.UserSource. A user whose tenant has
// not been assigned yet comes back with TenantID zero.
func (s *UserStore) LookupBySubject(ctx context.Context, subject string) (tenantctx.UserRecord, bool, error) {
	query := `
		SELECT subject, partner_id, role
		FROM users
		WHERE subject = $1
	`
	row := s.pool.QueryRow(ctx, query, subject)

	var record tenantctx.UserRecord
	var partnerID pgtype.Int8
	err := row.Scan(&record.UserID, &partnerID, &record.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return tenantctx.UserRecord{}, false, nil
	}
	if err != nil {
		return tenantctx.UserRecord{}, false, fmt.Errorf("lookup user by subject: %w", err)
	}
	if partnerID.Valid {
		record.TenantID = partnerID.Int64
	}
	return record, true, nil
}

// UpdateRole changes a user's role. The update is scoped to the caller's
// tenant so an admin can never touch users outside it.
func (s *UserStore) UpdateRole(ctx context.Context, tenantID int64, subject, role string) error {
	scope, err := tenantctx.ScopeFilter("partner_id", tenantID, 3)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE users SET role = $1 WHERE subject = $2 AND %s`, scope.Expr)
	tag, err := s.pool.Exec(ctx, query, role, subject, scope.Arg)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AssignTenant places a user in a tenant. Used by the admin surface.
func (s *UserStore) AssignTenant(ctx context.Context, subject string, tenantID int64) error {
	if err := tenantctx.RequireTenant(tenantID); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE users SET partner_id = $1 WHERE subject = $2`, tenantID, subject)
	if err != nil {
		return fmt.Errorf("assign tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

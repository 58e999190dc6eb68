package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pianoemotion/crmgate/internal/portal"
	"github.com/pianoemotion/crmgate/internal/tenantctx"
)

var ErrPortalTokenNotFound = errors.New("portal token not found")

type PortalTokenStore struct {
	pool *pgxpool.Pool
}

// Issue persists a freshly generated token. Only the prefix and the secret
// hash are stored.
func (s *PortalTokenStore) Issue(ctx context.Context, tenantID int64, clientID, prefix, secretHash string, expiresAt time.Time) (string, error) {
	if err := tenantctx.RequireTenant(tenantID); err != nil {
		return "", err
	}
	id := uuid.NewString()
	query := `
		INSERT INTO portal_tokens (id, partner_id, client_id, prefix, secret_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.pool.Exec(ctx, query, id, tenantID, clientID, prefix, secretHash, expiresAt); err != nil {
		return "", fmt.Errorf("issue portal token: %w", err)
	}
	return id, nil
}

// LookupByPrefix implements portal.TokenSource.
func (s *PortalTokenStore) LookupByPrefix(ctx context.Context, prefix string) (portal.TokenRecord, bool, error) {
	query := `
		SELECT id, partner_id, client_id, secret_hash, expires_at, revoked_at
		FROM portal_tokens
		WHERE prefix = $1
	`
	row := s.pool.QueryRow(ctx, query, prefix)

	var record portal.TokenRecord
	var revokedAt pgtype.Timestamptz
	err := row.Scan(&record.ID, &record.TenantID, &record.ClientID, &record.SecretHash, &record.ExpiresAt, &revokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return portal.TokenRecord{}, false, nil
	}
	if err != nil {
		return portal.TokenRecord{}, false, fmt.Errorf("lookup portal token: %w", err)
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		record.RevokedAt = &t
	}
	return record, true, nil
}

// Revoke disables a token inside the caller's tenant. Revoking an already
// revoked token is a no-op.
func (s *PortalTokenStore) Revoke(ctx context.Context, tenantID int64, id string) error {
	scope, err := tenantctx.ScopeFilter("partner_id", tenantID, 2)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE portal_tokens
		SET revoked_at = COALESCE(revoked_at, NOW())
		WHERE id = $1 AND %s
	`, scope.Expr)

	tag, err := s.pool.Exec(ctx, query, id, scope.Arg)
	if err != nil {
		return fmt.Errorf("revoke portal token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPortalTokenNotFound
	}
	return nil
}

// ListForClient returns the issued tokens for one client, newest first.
func (s *PortalTokenStore) ListForClient(ctx context.Context, tenantID int64, clientID string) ([]portal.TokenRecord, error) {
	scope, err := tenantctx.ScopeFilter("partner_id", tenantID, 2)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT id, partner_id, client_id, secret_hash, expires_at, revoked_at
		FROM portal_tokens
		WHERE client_id = $1 AND %s
		ORDER BY expires_at DESC
	`, scope.Expr)

	rows, err := s.pool.Query(ctx, query, clientID, scope.Arg)
	if err != nil {
		return nil, fmt.Errorf("list portal tokens: %w", err)
	}
	defer rows.Close()

	records := make([]portal.TokenRecord, 0)
	for rows.Next() {
		var record portal.TokenRecord
		var revokedAt pgtype.Timestamptz
		if err := rows.Scan(&record.ID, &record.TenantID, &record.ClientID, &record.SecretHash, &record.ExpiresAt, &revokedAt); err != nil {
			return nil, fmt.Errorf("scan portal token: %w", err)
		}
		if revokedAt.Valid {
			t := revokedAt.Time
			record.RevokedAt = &t
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate portal tokens: %w", err)
	}
	return records, nil
}

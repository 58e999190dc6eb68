// Package store holds the Postgres repositories. Every tenant-owned table
// is reached through the tenantctx scope helpers so no query can cross a
// tenant boundary by accident.
package store

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store bundles the repositories sharing one connection pool.
type Store struct {
	Users        *UserStore
	Clients      *ClientStore
	PortalTokens *PortalTokenStore
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Users:        &UserStore{pool: pool},
		Clients:      &ClientStore{pool: pool},
		PortalTokens: &PortalTokenStore{pool: pool},
	}
}

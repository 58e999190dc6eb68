package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pianoemotion/crmgate/internal/tenantctx"
)

// ErrClientNotFound is returned when a client does not exist inside the
// caller's tenant. A client belonging to another tenant reports the same way.
var ErrClientNotFound = errors.New("client not found")

type Client struct {
	ID        string    `json:"id"`
	PartnerID int64     `json:"partnerId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ClientInput struct {
	Name  string
	Email string
	Phone string
	Notes string
}

type ClientStore struct {
	pool *pgxpool.Pool
}

func (s *ClientStore) List(ctx context.Context, tenantID int64) ([]Client, error) {
	scope, err := tenantctx.ScopeFilter("partner_id", tenantID, 1)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT id, partner_id, name, email, phone, notes, created_at, updated_at
		FROM clients
		WHERE %s
		ORDER BY name, id
	`, scope.Expr)

	rows, err := s.pool.Query(ctx, query, scope.Arg)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	clients := make([]Client, 0)
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.PartnerID, &c.Name, &c.Email, &c.Phone, &c.Notes, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}
	return clients, nil
}

func (s *ClientStore) Get(ctx context.Context, tenantID int64, id string) (Client, error) {
	scope, err := tenantctx.ScopeFilter("partner_id", tenantID, 2)
	if err != nil {
		return Client{}, err
	}
	query := fmt.Sprintf(`
		SELECT id, partner_id, name, email, phone, notes, created_at, updated_at
		FROM clients
		WHERE id = $1 AND %s
	`, scope.Expr)

	var c Client
	row := s.pool.QueryRow(ctx, query, id, scope.Arg)
	err = row.Scan(&c.ID, &c.PartnerID, &c.Name, &c.Email, &c.Phone, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Client{}, ErrClientNotFound
	}
	if err != nil {
		return Client{}, fmt.Errorf("get client: %w", err)
	}
	return c, nil
}

func (s *ClientStore) Create(ctx context.Context, tenantID int64, input ClientInput) (Client, error) {
	record, err := tenantctx.ScopeInsert(map[string]any{
		"id":    uuid.NewString(),
		"name":  input.Name,
		"email": input.Email,
		"phone": input.Phone,
		"notes": input.Notes,
	}, tenantID)
	if err != nil {
		return Client{}, err
	}

	columns, placeholders, args := insertParts(record)
	query := fmt.Sprintf(`
		INSERT INTO clients (%s)
		VALUES (%s)
		RETURNING id, partner_id, name, email, phone, notes, created_at, updated_at
	`, columns, placeholders)

	var c Client
	row := s.pool.QueryRow(ctx, query, args...)
	if err := row.Scan(&c.ID, &c.PartnerID, &c.Name, &c.Email, &c.Phone, &c.Notes, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Client{}, fmt.Errorf("create client: %w", err)
	}
	return c, nil
}

func (s *ClientStore) Update(ctx context.Context, tenantID int64, id string, input ClientInput) (Client, error) {
	scope, err := tenantctx.ScopeFilter("partner_id", tenantID, 6)
	if err != nil {
		return Client{}, err
	}
	query := fmt.Sprintf(`
		UPDATE clients
		SET name = $1, email = $2, phone = $3, notes = $4, updated_at = NOW()
		WHERE id = $5 AND %s
		RETURNING id, partner_id, name, email, phone, notes, created_at, updated_at
	`, scope.Expr)

	var c Client
	row := s.pool.QueryRow(ctx, query, input.Name, input.Email, input.Phone, input.Notes, id, scope.Arg)
	err = row.Scan(&c.ID, &c.PartnerID, &c.Name, &c.Email, &c.Phone, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Client{}, ErrClientNotFound
	}
	if err != nil {
		return Client{}, fmt.Errorf("update client: %w", err)
	}
	return c, nil
}

func (s *ClientStore) Delete(ctx context.Context, tenantID int64, id string) error {
	scope, err := tenantctx.ScopeFilter("partner_id", tenantID, 2)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM clients WHERE id = $1 AND %s`, scope.Expr)

	tag, err := s.pool.Exec(ctx, query, id, scope.Arg)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

// insertParts renders a scoped record into the column list, placeholder list
// and argument slice of an INSERT. Columns are sorted so the statement text
// is stable for a given shape.
func insertParts(record map[string]any) (string, string, []any) {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	placeholders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = record[k]
	}
	return strings.Join(keys, ", "), strings.Join(placeholders, ", "), args
}

package tenantctx

import (
	"fmt"
	"regexp"
)

// Predicate is a SQL condition restricting rows to one tenant. Expr references
// the tenant value as a positional placeholder; Arg carries the value.
type Predicate struct {
	Expr string
	Arg  int64
}

var columnPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// RequireTenant asserts that the id is a usable tenant scope. Handlers call it
// before any operation that cannot go through ScopeFilter or ScopeInsert.
func RequireTenant(tenantID int64) error {
	if tenantID <= 0 {
		return ErrTenantUnavailable
	}
	return nil
}

// ScopeFilter builds the tenant predicate for a query. The placeholder index
// is supplied by the caller so the predicate composes with other conditions.
func ScopeFilter(column string, tenantID int64, placeholder int) (Predicate, error) {
	if err := RequireTenant(tenantID); err != nil {
		return Predicate{}, err
	}
	if !columnPattern.MatchString(column) {
		return Predicate{}, fmt.Errorf("invalid tenant column %q", column)
	}
	return Predicate{
		Expr: fmt.Sprintf("%s = $%d", column, placeholder),
		Arg:  tenantID,
	}, nil
}

// ScopeInsert returns a shallow copy of record with the tenant column set.
// The input map is never mutated.
func ScopeInsert(record map[string]any, tenantID int64) (map[string]any, error) {
	if err := RequireTenant(tenantID); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(record)+1)
	for k, v := range record {
		out[k] = v
	}
	out["partner_id"] = tenantID
	return out, nil
}

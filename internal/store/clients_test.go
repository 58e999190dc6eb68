package store

import (
	"reflect"
	"testing"

	"github.com/pianoemotion/crmgate/internal/tenantctx"
)

func TestInsertPartsStableOrder(t *testing.T) {
	record, err := tenantctx.ScopeInsert(map[string]any{
		"id":    "c-1",
		"name":  "Aria Chen",
		"email": "aria@example.test",
	}, 9)
	if err != nil {
		t.Fatalf("scope insert: %v", err)
	}

	columns, placeholders, args := insertParts(record)
	if columns != "email, id, name, partner_id" {
		t.Fatalf("columns = %q", columns)
	}
	if placeholders != "$1, $2, $3, $4" {
		t.Fatalf("placeholders = %q", placeholders)
	}
	want := []any{"aria@example.test", "c-1", "Aria Chen", int64(9)}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
}

func TestScopedQueriesRejectMissingTenant(t *testing.T) {
	s := &ClientStore{}
	if _, err := s.List(t.Context(), 0); err != tenantctx.ErrTenantUnavailable {
		t.Fatalf("List err = %v, want ErrTenantUnavailable", err)
	}
	if _, err := s.Create(t.Context(), -1, ClientInput{Name: "x"}); err != tenantctx.ErrTenantUnavailable {
		t.Fatalf("Create err = %v, want ErrTenantUnavailable", err)
	}
	if err := s.Delete(t.Context(), 0, "c-1"); err != tenantctx.ErrTenantUnavailable {
		t.Fatalf("Delete err = %v, want ErrTenantUnavailable", err)
	}
}

package tenantctx

import (
	"context"
	"errors"
	"testing"
)

func TestRequireTenantFailsClosed(t *testing.T) {
	if err := RequireTenant(1); err != nil {
		t.Fatalf("positive tenant should pass: %v", err)
	}
	for _, id := range []int64{0, -1} {
		if err := RequireTenant(id); !errors.Is(err, ErrTenantUnavailable) {
			t.Fatalf("tenant %d: want ErrTenantUnavailable, got %v", id, err)
		}
	}
}

func TestScopeFilterBuildsPredicate(t *testing.T) {
	pred, err := ScopeFilter("partner_id", 12, 3)
	if err != nil {
		t.Fatalf("scope filter: %v", err)
	}
	if pred.Expr != "partner_id = $3" {
		t.Fatalf("unexpected expr %q", pred.Expr)
	}
	if pred.Arg != 12 {
		t.Fatalf("unexpected arg %d", pred.Arg)
	}
}

func TestScopeFilterRejectsInvalidInput(t *testing.T) {
	if _, err := ScopeFilter("partner_id", 0, 1); !errors.Is(err, ErrTenantUnavailable) {
		t.Fatalf("want ErrTenantUnavailable, got %v", err)
	}
	if _, err := ScopeFilter("partner_id; DROP TABLE clients", 5, 1); err == nil {
		t.Fatal("malformed column must be rejected")
	}
}

func TestScopeInsertCopiesRecord(t *testing.T) {
	record := map[string]any{"name": "Aria Chen"}
	scoped, err := ScopeInsert(record, 9)
	if err != nil {
		t.Fatalf("scope insert: %v", err)
	}
	if scoped["partner_id"] != int64(9) {
		t.Fatalf("tenant not applied: %+v", scoped)
	}
	if _, ok := record["partner_id"]; ok {
		t.Fatal("input record must not be mutated")
	}

	if _, err := ScopeInsert(record, 0); !errors.Is(err, ErrTenantUnavailable) {
		t.Fatalf("want ErrTenantUnavailable, got %v", err)
	}
}

func TestContextRoundTrip(t *testing.T) {
	tc, err := New("7", 3, "admin")
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	ctx := WithContext(context.Background(), tc)
	got, ok := FromContext(ctx)
	if !ok || got != tc {
		t.Fatalf("context round trip failed: %v %v", got, ok)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("empty context should not carry tenant scope")
	}
}

func TestNewRejectsFalsyTenant(t *testing.T) {
	if _, err := New("7", 0, "admin"); !errors.Is(err, ErrTenantUnavailable) {
		t.Fatalf("want ErrTenantUnavailable, got %v", err)
	}
}

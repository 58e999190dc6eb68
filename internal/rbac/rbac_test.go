package rbac

import (
	"errors"
	"testing"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
		ok   bool
	}{
		{"admin", RoleAdmin, true},
		{" Technician ", RoleTechnician, true},
		{"VIEWER", RoleViewer, true},
		{"owner", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, ok := ParseRole(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseRole(%q) = %q,%v want %q,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestAtLeast(t *testing.T) {
	if !AtLeast(RoleAdmin, RoleViewer) {
		t.Fatal("admin must satisfy viewer")
	}
	if !AtLeast(RoleTechnician, RoleTechnician) {
		t.Fatal("role must satisfy itself")
	}
	if AtLeast(RoleViewer, RoleTechnician) {
		t.Fatal("viewer must not satisfy technician")
	}
}

func TestEnsure(t *testing.T) {
	if err := Ensure("admin", RoleTechnician); err != nil {
		t.Fatalf("admin vs technician: %v", err)
	}
	if err := Ensure("viewer", RoleAdmin); !errors.Is(err, ErrForbidden) {
		t.Fatalf("viewer vs admin err = %v", err)
	}
	if err := Ensure("superuser", RoleViewer); !errors.Is(err, ErrForbidden) {
		t.Fatalf("unknown role err = %v", err)
	}
}

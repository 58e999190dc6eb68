package rbac

import (
	"errors"
	"strings"
)

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleTechnician Role = "technician"
	RoleViewer     Role = "viewer"
)

type RoleRank int

var roleOrder = map[Role]RoleRank{
	RoleAdmin:      3,
	RoleTechnician: 2,
	RoleViewer:     1,
}

// ParseRole converts a case-insensitive string to Role.
func ParseRole(value string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "admin":
		return RoleAdmin, true
	case "technician":
		return RoleTechnician, true
	case "viewer":
		return RoleViewer, true
	default:
		return "", false
	}
}

// AtLeast returns true if current role is >= required role.
func AtLeast(current, required Role) bool {
	return roleOrder[current] >= roleOrder[required]
}

var ErrForbidden = errors.New("forbidden")

// Ensure enforces that a role string from the user record satisfies the
// requirement. Unknown roles never satisfy anything.
func Ensure(current string, required Role) error {
	role, ok := ParseRole(current)
	if !ok {
		return ErrForbidden
	}
	if !AtLeast(role, required) {
		return ErrForbidden
	}
	return nil
}

package auth

import "strings"

// Role is the coarse permission tier attached to an identity. The set is
// closed: add a constant and extend the switches below to introduce a new one.
type Role string

const (
	// RoleUser is the default role for registered accounts
	RoleUser Role = "user"
	// RoleAdmin can run admin-only operations
	RoleAdmin Role = "admin"
)

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsAdmin reports whether the role grants admin operations
func (r Role) IsAdmin() bool {
	switch r {
	case RoleAdmin:
		return true
	default:
		return false
	}
}

// IsAtLeast checks if this role meets the minimum required level
func (r Role) IsAtLeast(minRole Role) bool {
	currentLevel, ok := roleLevel(r)
	if !ok {
		return false
	}

	minLevel, ok := roleLevel(minRole)
	if !ok {
		return false
	}

	return currentLevel >= minLevel
}

func (r Role) String() string {
	return string(r)
}

func roleLevel(r Role) (int, bool) {
	switch r {
	case RoleUser:
		return 0, true
	case RoleAdmin:
		return 1, true
	default:
		return 0, false
	}
}

// GetAllRoles returns all predefined roles in hierarchical order
func GetAllRoles() []Role {
	return []Role{
		RoleUser,
		RoleAdmin,
	}
}

// ParseRole safely parses a string into a Role, ignoring case and spaces
func ParseRole(roleStr string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(roleStr)))
	return role, role.IsValid()
}

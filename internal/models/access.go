package models

import "strings"

// AccessLevel orders who may read a collection. Comparison is integer comparison.
type AccessLevel int

const (
	AccessPublic AccessLevel = iota
	AccessRegistered
	AccessPremium
	AccessAdmin
	AccessSuperAdmin
)

func (a AccessLevel) String() string {
	switch a {
	case AccessPublic:
		return "public"
	case AccessRegistered:
		return "registered"
	case AccessPremium:
		return "premium"
	case AccessAdmin:
		return "admin"
	case AccessSuperAdmin:
		return "superadmin"
	default:
		return "unknown"
	}
}

// ParseAccessLevel maps a stored access level string onto [AccessLevel].
//
// Unknown values are treated as the most restrictive level so a typo never widens access.
func ParseAccessLevel(s string) AccessLevel {
	switch normalizeRole(s) {
	case "", "public":
		return AccessPublic
	case "registered", "user", "member":
		return AccessRegistered
	case "premium":
		return AccessPremium
	case "admin":
		return AccessAdmin
	case "superadmin":
		return AccessSuperAdmin
	default:
		return AccessSuperAdmin
	}
}

// Permits reports whether a caller at level a may read content requiring level required.
func (a AccessLevel) Permits(required AccessLevel) bool {
	return a >= required
}

// Role is the opaque actor classification supplied by the authorization collaborator.
type Role string

const (
	RoleGuest      Role = "guest"
	RoleUser       Role = "user"
	RolePremium    Role = "premium"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Access maps the role onto the [AccessLevel] filter. Unknown and empty roles are public.
func (r Role) Access() AccessLevel {
	switch normalizeRole(string(r)) {
	case "registered", "user", "member":
		return AccessRegistered
	case "premium":
		return AccessPremium
	case "admin":
		return AccessAdmin
	case "superadmin":
		return AccessSuperAdmin
	default:
		return AccessPublic
	}
}

// Anonymous reports whether the role belongs to an unauthenticated actor.
func (r Role) Anonymous() bool {
	return r.Access() == AccessPublic
}

func normalizeRole(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "")
	return strings.ReplaceAll(s, "-", "")
}

// Package authz provides the role model used by the document workflow and
// access engines: the capability check, the request actor and the HTTP
// middleware that resolves it from headers or a bearer token.
package authz

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Role is a user's organisational role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCEO      Role = "ceo"
	RoleManager  Role = "manager"
	RoleUser     Role = "user"
	RoleGuest    Role = "guest"
	RoleSystem   Role = "system"
	RoleAnalyst  Role = "analyst"
	RoleReviewer Role = "reviewer"
)

// ParseRole normalises a role string. Unknown values are kept as-is so
// deployments can define their own roles.
func ParseRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

// DefaultOverrideRoles are allowed to act in place of any required role.
func DefaultOverrideRoles() mapset.Set[Role] {
	return mapset.NewSet(RoleAdmin)
}

// Capable reports whether actorRole may perform an action that requires
// requiredRole. Holders of any override role are always capable.
// An empty required role is satisfied by any non-empty actor role.
func Capable(actorRole, requiredRole Role, overrideRoles mapset.Set[Role]) bool {
	if actorRole == "" {
		return false
	}
	if overrideRoles != nil && overrideRoles.Contains(actorRole) {
		return true
	}
	if requiredRole == "" {
		return true
	}
	return actorRole == requiredRole
}

// IsOverride reports whether role is one of overrideRoles.
func IsOverride(role Role, overrideRoles mapset.Set[Role]) bool {
	return overrideRoles != nil && overrideRoles.Contains(role)
}

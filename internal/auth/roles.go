package auth

import "strings"

// Global roles span the whole platform. They are a separate vocabulary from
// organization roles and never substitute for one another.
const (
	GlobalRoleUser      = "user"
	GlobalRoleAdmin     = "admin"
	GlobalRoleSuperuser = "superuser"
)

// Organization roles, scoped to a single organization. Owner is implicit: the
// user recorded as the organization's creator holds it without a membership row.
const (
	OrgRoleViewer = "viewer"
	OrgRoleEditor = "editor"
	OrgRoleAdmin  = "admin"
	OrgRoleOwner  = "owner"
)

// orgRoleLevels orders organization roles. Unknown or legacy role strings fall
// through to level 0, so a corrupt value can never grant more than viewer access.
var orgRoleLevels = map[string]int{
	OrgRoleViewer: 0,
	OrgRoleEditor: 1,
	OrgRoleAdmin:  2,
	OrgRoleOwner:  3,
}

// RoleLevel maps an organization role onto the strict hierarchy
// viewer(0) < editor(1) < admin(2) < owner(3).
func RoleLevel(role string) int {
	if lvl, ok := orgRoleLevels[strings.ToLower(strings.TrimSpace(role))]; ok {
		return lvl
	}
	return 0
}

// EffectiveAccess is the resolved permission of one user on one organization,
// merging global role, ownership and membership. Computed per request, never
// cached.
type EffectiveAccess struct {
	HasAccess bool   `json:"has_access"`
	Role      string `json:"role,omitempty"`
	IsOwner   bool   `json:"is_owner"`
}

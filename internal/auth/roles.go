package auth

import "strings"

// Role is the access level carried in a token.
type Role string

// Viewers read alerts and cached values, operators additionally use the
// write endpoints under /api/, admins may invalidate caches and see every
// facade regardless of scope.
const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole trims and lowercases value and reports whether it names a role.
func NormalizeRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := roleRanks[role]; !ok {
		return "", false
	}
	return role, true
}

// RoleAtLeast reports whether role satisfies required. Unknown roles satisfy nothing.
func RoleAtLeast(role Role, required Role) bool {
	rank, ok := roleRanks[role]
	if !ok {
		return false
	}
	return rank >= roleRanks[required]
}

package auth

import "strings"

// Role is an access level for the watering API.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleRank = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole parses a role string, reporting whether it is valid.
func NormalizeRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	_, ok := roleRank[role]
	return role, ok
}

// RoleAtLeast reports whether role meets the required level.
func RoleAtLeast(role, required Role) bool {
	return roleRank[role] >= roleRank[required]
}

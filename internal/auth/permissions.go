package auth

// Permission represents a named capability.
type Permission string

const (
	PermSessionRead    Permission = "session:read"
	PermSessionElevate Permission = "session:elevate"
	PermAuditRead      Permission = "audit:read"
	PermUserManage     Permission = "user:manage"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleMember: {
		PermSessionRead,
	},
	RoleStaff: {
		PermSessionRead,
		PermSessionElevate,
	},
	RoleAdmin: {
		PermSessionRead,
		PermSessionElevate,
		PermAuditRead,
		PermUserManage,
	},
}

// HasPermission returns true if the role grants perm.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the permissions granted to a role,
// or nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}

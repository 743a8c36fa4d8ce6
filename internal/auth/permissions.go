package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermDoorHistory   Permission = "door:history"   // access-event history
	PermDoorReadAll   Permission = "door:read"      // door state, cards, full logs
	PermDoorOperate   Permission = "door:operate"   // unlock, reset alarm, PIN verify
	PermDoorConfigure Permission = "door:configure" // PIN change, enrollment, card add/revoke
	PermCardSelf      Permission = "card:self"      // report own card lost
	PermAlertRead     Permission = "alert:read"
	PermPushRegister  Permission = "push:register"
	PermUserManage    Permission = "user:manage"
	PermAuditRead     Permission = "audit:read"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleUser: {
		PermDoorHistory,
		PermCardSelf,
		PermAlertRead,
		PermPushRegister,
	},
	RoleAdmin: {
		PermDoorHistory,
		PermDoorReadAll,
		PermDoorOperate,
		PermDoorConfigure,
		PermCardSelf,
		PermAlertRead,
		PermPushRegister,
		PermUserManage,
		PermAuditRead,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}

package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	// RoleOperator can observe live calls.
	RoleOperator = "operator"
	// RoleSupervisor can additionally act on live calls (force hangup).
	RoleSupervisor = "supervisor"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func Known(role string) bool {
	switch role {
	case RoleOperator, RoleSupervisor, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

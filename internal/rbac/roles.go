package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
//
// - operator: day-to-day integration management (activate, backfill, status)
// - admin: everything operator can do plus deactivation/teardown
// - super_admin: bypasses role checks entirely
// - support_engineer: hidden internal role; denied unless a route opts in
const (
	RoleOperator        = "operator"
	RoleAdmin           = "admin"
	RoleSuperAdmin      = "super_admin"
	RoleSupportEngineer = "support_engineer" // hidden role
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleSupportEngineer }

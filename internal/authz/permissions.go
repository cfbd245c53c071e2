package authz

// Permission keys used by the core itself. Business features define their
// own keys (sale:create, reports:view, ...); these guard the admin surface.
const (
	PermRolesManage    = "roles:manage"
	PermUsersManage    = "users:manage"
	PermSecurityAdmin  = "security:admin"
	PermSessionInspect = "sessions:inspect"
)
